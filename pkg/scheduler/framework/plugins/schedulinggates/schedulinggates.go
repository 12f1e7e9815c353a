// Package schedulinggates implements the PreEnqueue plugin that holds a pod out of
// the active queue while it still carries scheduling gates (spec.md §4.1
// "PreEnqueue: cheap gating (e.g. scheduling gates)").
package schedulinggates

import (
	"context"
	"strings"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
)

const Name = "SchedulingGates"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) PreEnqueue(_ context.Context, pod *core.Pod) *framework.Status {
	if len(pod.Spec.SchedulingGates) == 0 {
		return nil
	}
	return framework.NewStatus(framework.UnschedulableAndUnresolvable,
		"waiting for scheduling gates: "+strings.Join(pod.Spec.SchedulingGates, ","))
}

// EventsToRegister has nothing to register: only removing a gate (a pod spec edit,
// not a cluster event this framework models) revives a gated pod, matching how
// UnschedulableAndUnresolvable pods are only revived by a pod edit per spec.md §4.1.
func (p *Plugin) EventsToRegister() []framework.ClusterEventWithHint { return nil }
