// Package build executes a parsed recipe stage by stage against an overlay
// mount, the Go counterpart of a Dockerfile-style stage executor.
package build

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/arken-sh/arken/pkg/errkind"
	"github.com/arken-sh/arken/pkg/image/overlay"
	"github.com/arken-sh/arken/pkg/image/recipe"
)

// ImageResolver resolves a FROM reference (an alias from a prior stage, or
// a registry reference) to the ordered list of lower directories a base
// image contributes, bottom layer first.
type ImageResolver interface {
	Resolve(ref string) (lowerDirs []string, err error)
}

// Executor runs one stage's instructions against a mount and an image
// config. A build with multiple stages constructs one Executor per stage,
// threading ImageAliases forward so a later FROM can name an earlier
// stage's alias.
type Executor struct {
	Mount        *overlay.MountConfig
	Config       *ImageConfig
	Resolver     ImageResolver
	ImageAliases map[string]string
	BuildContext string // directory COPY sources resolve against

	args map[string]string
}

// NewExecutor constructs an executor for one stage.
func NewExecutor(mount *overlay.MountConfig, cfg *ImageConfig, resolver ImageResolver, aliases map[string]string, buildContext string) *Executor {
	return &Executor{
		Mount:        mount,
		Config:       cfg,
		Resolver:     resolver,
		ImageAliases: aliases,
		BuildContext: buildContext,
		args:         make(map[string]string),
	}
}

// Execute runs every instruction of stage in order, wrapping each failure
// with the instruction's source line.
func (e *Executor) Execute(stage recipe.Stage) error {
	if err := e.executeFrom(stage); err != nil {
		return errors.Wrapf(err, "FROM %s", stage.Base)
	}
	for _, inst := range stage.Instructions {
		if err := e.executeInstruction(inst); err != nil {
			return errors.Wrapf(err, "line %d", inst.Line)
		}
	}
	return nil
}

func (e *Executor) executeInstruction(inst recipe.Instruction) error {
	switch inst.Kind {
	case recipe.KindArg:
		return e.executeArg(inst.Args)
	case recipe.KindLabel:
		return e.executeLabel(inst.Args)
	case recipe.KindRun:
		return e.executeRun(inst.Args)
	case recipe.KindEnv:
		return e.executeEnv(inst.Args)
	case recipe.KindCopy:
		return e.executeCopy(inst.Args, inst.Line)
	case recipe.KindEntrypoint:
		e.Config.Entrypoint = splitExecOrShell(inst.Args)
		return nil
	case recipe.KindCmd:
		e.Config.Cmd = splitExecOrShell(inst.Args)
		return nil
	default:
		return errkind.Newf(errkind.InvalidInput, "unsupported instruction kind %v", inst.Kind)
	}
}

// executeFrom resolves the stage's base image into lower directories (by
// alias if a prior stage produced one, otherwise via the resolver's
// registry pull path), appends them in OCI order, and mounts the overlay.
// This must run before any other instruction in the stage, since RUN/COPY
// both require a live mount.
func (e *Executor) executeFrom(stage recipe.Stage) error {
	ref := stage.Base
	if path, ok := e.ImageAliases[ref]; ok {
		ref = path
	}

	lowers, err := e.Resolver.Resolve(ref)
	if err != nil {
		return err
	}
	e.Mount.LowerDirs = append(e.Mount.LowerDirs, lowers...)

	if err := e.Mount.Init(); err != nil {
		return err
	}
	if stage.Alias != "" {
		e.ImageAliases[stage.Alias] = stage.Base
	}
	return nil
}

func (e *Executor) executeArg(args string) error {
	name, value, _ := strings.Cut(args, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return errkind.New(errkind.InvalidInput, "ARG requires a name")
	}
	e.args[name] = strings.TrimSpace(value)
	return nil
}

func (e *Executor) executeLabel(args string) error {
	for _, pair := range strings.Fields(args) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return errkind.Newf(errkind.InvalidInput, "malformed LABEL pair %q", pair)
		}
		e.Config.AddLabel(strings.Trim(k, `"`), strings.Trim(v, `"`))
	}
	return nil
}

func (e *Executor) executeEnv(args string) error {
	k, v, ok := strings.Cut(args, "=")
	if !ok {
		k, v, ok = strings.Cut(args, " ")
		if !ok {
			return errkind.Newf(errkind.InvalidInput, "malformed ENV instruction %q", args)
		}
	}
	e.Config.AddEnv(strings.TrimSpace(k), strings.Trim(strings.TrimSpace(v), `"`))
	return nil
}

// executeRun brackets the child process in prepare/finish, matching the
// requirement that every filesystem-mutating instruction acquire and
// release the mount around its work.
func (e *Executor) executeRun(args string) error {
	commands := splitExecOrShell(args)

	if err := e.Mount.Prepare(); err != nil {
		return err
	}
	runErr := runInRoot(e.Mount.Mountpoint, commands, e.Config.Envp())
	if err := e.Mount.Finish(); err != nil {
		return err
	}
	return runErr
}

// executeCopy resolves the destination against the mountpoint (absolute
// paths relative to the mount root, relative paths under a conventional
// root/ subtree) and copies every source from the build context.
func (e *Executor) executeCopy(args string, line int) error {
	fields := strings.Fields(args)
	var flags []string
	i := 0
	for ; i < len(fields); i++ {
		if !strings.HasPrefix(fields[i], "--") {
			break
		}
		flags = append(flags, fields[i])
	}
	if err := recipe.RejectCopyFlags(flags, line); err != nil {
		return err
	}
	if len(fields)-i < 2 {
		return errkind.Newf(errkind.InvalidInput, "COPY requires at least one source and a destination (line %d)", line)
	}
	sources, dest := fields[i:len(fields)-1], fields[len(fields)-1]

	target := dest
	if strings.HasPrefix(dest, "/") {
		target = filepath.Join(e.Mount.Mountpoint, strings.TrimPrefix(dest, "/"))
	} else {
		target = filepath.Join(e.Mount.Mountpoint, "root", dest)
	}

	if err := e.Mount.Prepare(); err != nil {
		return err
	}
	copyErr := copySources(e.BuildContext, sources, target)
	if err := e.Mount.Finish(); err != nil {
		return err
	}
	return copyErr
}

func copySources(buildContext string, sources []string, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "preparing COPY destination")
	}
	for _, src := range sources {
		full := filepath.Join(buildContext, src)
		cmd := exec.Command("cp", "-a", full, dest)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return errkind.Wrapf(errkind.Unknown, err, "copying %s: %s", src, out)
		}
	}
	return nil
}

// runInRoot executes commands with root as the process's working root,
// matching the "pivoted into mountpoint" requirement; chroot needs
// CAP_SYS_CHROOT, which the build process is expected to hold.
func runInRoot(root string, commands, envp []string) error {
	if len(commands) == 0 {
		return errkind.New(errkind.InvalidInput, "RUN requires a command")
	}
	cmd := exec.Command(commands[0], commands[1:]...)
	cmd.Dir = "/"
	cmd.Env = envp
	cmd.SysProcAttr = chrootAttr(root)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logrus.WithField("command", commands).Debug("running build instruction")
	if err := cmd.Run(); err != nil {
		return errkind.Wrapf(errkind.Unknown, err, "command %v failed", commands)
	}
	return nil
}

// splitExecOrShell parses an instruction argument string in either JSON
// exec-array form (`["/bin/sh","-c","echo hi"]`) or shell form, prefixing
// the shell form with /bin/sh -c as the engine's convention.
func splitExecOrShell(args string) []string {
	args = strings.TrimSpace(args)
	if strings.HasPrefix(args, "[") {
		return parseExecArray(args)
	}
	if args == "" {
		return nil
	}
	return []string{"/bin/sh", "-c", args}
}

func parseExecArray(args string) []string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(args, "["), "]")
	var out []string
	for _, tok := range strings.Split(trimmed, ",") {
		tok = strings.TrimSpace(tok)
		tok = strings.Trim(tok, `"`)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
