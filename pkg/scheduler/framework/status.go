package framework

import (
	"strings"

	"github.com/pkg/errors"
)

// Code is the result code a plugin returns. NOTE: a nil *Status is also considered
// Success, matching the convention in shovanmaity-volume-scheduler/framework/status.go.
type Code int

const (
	// Success means the plugin ran correctly and the node/pod combination (or the
	// pod alone, for phases before a node is chosen) is still viable.
	Success Code = iota
	// Error is used for internal plugin errors, unexpected input, etc. Retried with
	// backoff at the cycle level.
	Error
	// Unschedulable means the plugin found the pod unschedulable for a reason that
	// may change (e.g. a cluster event); the pod is parked pending a requeue hint.
	Unschedulable
	// UnschedulableAndUnresolvable means the plugin found the pod unschedulable for
	// a reason that no cluster event can resolve; only an edit to the pod itself can.
	UnschedulableAndUnresolvable
	// Wait is returned only by Permit plugins: the pod is parked for a bounded
	// timeout awaiting an external approve/deny signal.
	Wait
	// Skip means the plugin does not apply to this pod/node and should be treated
	// as if it were not configured for this cycle.
	Skip
	// Pending means the phase should end for this cycle without penalty; the pod
	// will be revisited on the next tick rather than being charged a backoff.
	Pending
)

var codeNames = [...]string{"Success", "Error", "Unschedulable", "UnschedulableAndUnresolvable", "Wait", "Skip", "Pending"}

func (c Code) String() string {
	if int(c) < 0 || int(c) >= len(codeNames) {
		return "Unknown"
	}
	return codeNames[c]
}

// statusPrecedence ranks codes when merging several plugins' statuses into one:
// higher value wins. Success is lowest so any non-success status dominates it.
var statusPrecedence = map[Code]int{
	Success:                      -1,
	Skip:                         0,
	Pending:                      0,
	Wait:                         0,
	Unschedulable:                1,
	UnschedulableAndUnresolvable: 2,
	Error:                        3,
}

// Status is the result of running one plugin: a Code, human-readable reasons, the
// originating plugin name, and (for Error) the underlying error.
type Status struct {
	code       Code
	reasons    []string
	err        error
	pluginName string
}

// NewStatus builds a Status from a code and reasons.
func NewStatus(code Code, reasons ...string) *Status {
	s := &Status{code: code, reasons: reasons}
	if code == Error {
		s.err = errors.New(s.Message())
	}
	return s
}

// AsStatus wraps a Go error as an Error-coded Status.
func AsStatus(err error) *Status {
	if err == nil {
		return nil
	}
	return &Status{code: Error, reasons: []string{err.Error()}, err: err}
}

func (s *Status) Code() Code {
	if s == nil {
		return Success
	}
	return s.code
}

func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return strings.Join(s.reasons, ", ")
}

func (s *Status) Reasons() []string {
	if s == nil {
		return nil
	}
	return s.reasons
}

func (s *Status) AppendReason(reason string) {
	s.reasons = append(s.reasons, reason)
}

func (s *Status) SetPluginName(name string) { s.pluginName = name }

// WithPluginName sets the plugin name and returns the receiver, for chaining at a
// call site the way the teacher's status helpers do.
func (s *Status) WithPluginName(name string) *Status {
	if s == nil {
		return nil
	}
	s.pluginName = name
	return s
}

func (s *Status) PluginName() string {
	if s == nil {
		return ""
	}
	return s.pluginName
}

func (s *Status) IsSuccess() bool { return s.Code() == Success }

func (s *Status) IsUnschedulable() bool {
	c := s.Code()
	return c == Unschedulable || c == UnschedulableAndUnresolvable
}

// AsError returns nil for a success status, the wrapped error if one was recorded,
// or a new error built from the joined reasons otherwise.
func (s *Status) AsError() error {
	if s.IsSuccess() {
		return nil
	}
	if s != nil && s.err != nil {
		return s.err
	}
	return errors.New(s.Message())
}

// PluginToStatus maps a plugin name to the Status it returned, used to build the
// per-cycle NodeToStatus map and to merge PostFilter plugin results.
type PluginToStatus map[string]*Status

// Merge combines several plugins' statuses into one, keeping the highest-precedence
// code (Error > UnschedulableAndUnresolvable > Unschedulable > everything else) and
// concatenating reasons, matching spec.md §7's propagation policy.
func (p PluginToStatus) Merge() *Status {
	if len(p) == 0 {
		return nil
	}
	final := NewStatus(Success)
	for _, s := range p {
		if s.Code() == Error {
			final.err = s.AsError()
		}
		if statusPrecedence[s.Code()] > statusPrecedence[final.code] {
			final.code = s.Code()
			final.pluginName = s.PluginName()
		}
		final.reasons = append(final.reasons, s.reasons...)
	}
	return final
}
