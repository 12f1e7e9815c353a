// Package recipe parses a Dockerfile-style build recipe into a sequence of
// stages, each a sequence of typed instructions, for the stage executor to
// run against an overlay mount.
package recipe

import (
	"bufio"
	"strings"

	"github.com/arken-sh/arken/pkg/errkind"
)

// Kind identifies an instruction's verb.
type Kind int

const (
	KindFrom Kind = iota
	KindArg
	KindLabel
	KindRun
	KindEnv
	KindCopy
	KindEntrypoint
	KindCmd
)

// Instruction is one line of a recipe, already split into its verb and
// unparsed argument string; stage-specific parsing (shell vs exec form,
// flag rejection) happens in the executor where error context is richer.
type Instruction struct {
	Kind Kind
	Args string
	Line int
}

// Stage is one `FROM ... AS alias` block and the instructions that follow
// it, up to the next FROM or end of recipe.
type Stage struct {
	Base         string
	Alias        string
	Instructions []Instruction
}

var keywords = map[string]Kind{
	"FROM":       KindFrom,
	"ARG":        KindArg,
	"LABEL":      KindLabel,
	"RUN":        KindRun,
	"ENV":        KindEnv,
	"COPY":       KindCopy,
	"ENTRYPOINT": KindEntrypoint,
	"CMD":        KindCmd,
}

// Parse splits a recipe's text into stages. FROM starts a new stage;
// everything before the first FROM is rejected as invalid input, matching
// the requirement that every stage have a known base.
func Parse(text string) ([]Stage, error) {
	var stages []Stage
	scanner := bufio.NewScanner(strings.NewReader(text))

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		verb, rest, ok := strings.Cut(line, " ")
		if !ok {
			verb, rest = line, ""
		}
		verb = strings.ToUpper(verb)
		rest = strings.TrimSpace(rest)

		kind, known := keywords[verb]
		if !known {
			return nil, errkind.Newf(errkind.InvalidInput, "unrecognized instruction %q at line %d", verb, lineNo)
		}

		if kind == KindFrom {
			if err := rejectFromFlags(rest, lineNo); err != nil {
				return nil, err
			}
			base, alias := splitFromArgs(rest)
			stages = append(stages, Stage{Base: base, Alias: alias})
			continue
		}

		if len(stages) == 0 {
			return nil, errkind.Newf(errkind.InvalidInput, "instruction %q at line %d before any FROM", verb, lineNo)
		}
		cur := &stages[len(stages)-1]
		cur.Instructions = append(cur.Instructions, Instruction{Kind: kind, Args: rest, Line: lineNo})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return stages, nil
}

// rejectFromFlags fails the parse on `FROM --platform=...`, a flag the
// engine does not implement and refuses to silently ignore.
func rejectFromFlags(rest string, lineNo int) error {
	if strings.HasPrefix(rest, "--platform") {
		return errkind.Newf(errkind.InvalidInput, "FROM --platform is not supported (line %d)", lineNo)
	}
	return nil
}

func splitFromArgs(rest string) (base, alias string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", ""
	}
	base = fields[0]
	for i := 1; i < len(fields)-1; i++ {
		if strings.EqualFold(fields[i], "AS") {
			alias = fields[i+1]
			break
		}
	}
	return base, alias
}

// RejectCopyFlags fails with InvalidInput on any COPY flag, since neither
// --chown nor --from is implemented; called by the stage executor once it
// has split a COPY instruction's flag tokens from its source/dest operands.
func RejectCopyFlags(flags []string, lineNo int) error {
	if len(flags) == 0 {
		return nil
	}
	return errkind.Newf(errkind.InvalidInput, "COPY flags %v are not supported (line %d)", flags, lineNo)
}
