// Package errkind implements the stable, language-neutral error taxonomy that the
// scheduler, image builder, and network core report across component boundaries.
// Low-level errors are still wrapped with context via github.com/pkg/errors; errkind
// layers a classification on top so callers can branch on recovery policy without
// parsing messages.
package errkind

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one entry in the stable error taxonomy from the design.
type Kind string

const (
	// InvalidInput covers malformed pod specs, unparseable subnet keys, and unknown
	// build instructions. Callers should report it, not retry.
	InvalidInput Kind = "InvalidInput"
	// Conflict covers a route already present with a different gateway, or a subnet
	// already leased to another node.
	Conflict Kind = "Conflict"
	// Transient covers netlink EAGAIN, registry timeouts, and pull connection resets.
	// Callers should retry with exponential backoff up to a bounded ceiling.
	Transient Kind = "Transient"
	// ResourceExhausted covers an empty subnet pool or zero feasible scheduling nodes.
	ResourceExhausted Kind = "ResourceExhausted"
	// PermissionDenied covers missing capabilities for mount/mknod. Fatal for the
	// operation that raised it.
	PermissionDenied Kind = "PermissionDenied"
	// StateCorruption covers a digest mismatch on an extracted layer or a mismatched
	// prepare/finish pair. Callers must abort immediately.
	StateCorruption Kind = "StateCorruption"

	// Unknown is returned by Of when an error carries no Kind at all.
	Unknown Kind = "Unknown"
)

// kindError wraps an error with a Kind and is itself unwrap-compatible so errors.Is,
// errors.As, and errors.Cause all keep working on the chain underneath.
type kindError struct {
	kind Kind
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err == nil {
		return e.msg
	}
	if e.msg == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %s", e.msg, e.err)
}

func (e *kindError) Unwrap() error { return e.err }

func (e *kindError) Cause() error { return e.err }

// New creates a new error carrying kind with the given message.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Newf creates a new error carrying kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with kind and a context message, the way pkg/errors.Wrap
// annotates with context alone.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, msg: msg, err: errors.WithStack(err)}
}

// Wrapf annotates err with kind and a formatted context message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...), err: errors.WithStack(err)}
}

// Of classifies err by walking its cause chain for the first *kindError, returning
// Unknown if none is found.
func Of(err error) Kind {
	for err != nil {
		if ke, ok := err.(*kindError); ok {
			return ke.kind
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

// Retryable reports whether the error's kind is one the caller should retry with
// backoff (Transient only — every other kind is terminal for the current attempt).
func Retryable(err error) bool {
	return Of(err) == Transient
}
