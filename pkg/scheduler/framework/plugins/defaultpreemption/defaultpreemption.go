// Package defaultpreemption implements the PostFilter extension point. Preemption
// of lower-priority pods is out of scope (spec.md scopes control-plane API
// machinery like this out of the three named cores), but the extension point and
// its failure path are real: this plugin always reports the cycle as
// unresolvable by eviction, which is a legitimate PostFilter verdict per spec.md
// §4.1 ("Returns ... UnschedulableAndUnresolvable").
package defaultpreemption

import (
	"context"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
)

const Name = "DefaultPreemption"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) PostFilter(_ context.Context, _ *framework.CycleState, _ *core.Pod, _ *framework.NodeToStatus) (*framework.PostFilterResult, *framework.Status) {
	return nil, framework.NewStatus(framework.UnschedulableAndUnresolvable, "preemption is not supported; no node became feasible")
}
