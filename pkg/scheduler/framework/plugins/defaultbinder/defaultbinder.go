// Package defaultbinder implements the fallback Bind plugin: it simply records
// the (pod, node) binding decision through a BindFunc supplied by the caller
// (typically a write into the registry backing the control plane). Real clusters
// may register a smarter Bind plugin ahead of this one and rely on it returning
// Skip for pods it does not want to handle; this plugin never returns Skip, so it
// must be registered last.
package defaultbinder

import (
	"context"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
)

const Name = "DefaultBinder"

// BindFunc performs the actual persistence of a (pod, node) binding.
type BindFunc func(ctx context.Context, pod *core.Pod, nodeName string) error

type Plugin struct {
	bind BindFunc
}

func New(bind BindFunc) *Plugin { return &Plugin{bind: bind} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Bind(ctx context.Context, _ *framework.CycleState, pod *core.Pod, nodeName string) *framework.Status {
	if err := p.bind(ctx, pod, nodeName); err != nil {
		return framework.AsStatus(err)
	}
	return framework.NewStatus(framework.Success)
}
