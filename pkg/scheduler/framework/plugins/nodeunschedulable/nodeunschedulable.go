// Package nodeunschedulable implements a Filter plugin that excludes nodes
// reporting a false/absent Ready condition — a node that has not heartbeat
// recently, or an agent that marked itself cordoned, should not receive new pods.
package nodeunschedulable

import (
	"context"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
)

const Name = "NodeUnschedulable"

// ReadyCondition is the condition type this plugin consults.
const ReadyCondition = "Ready"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Filter(_ context.Context, _ *framework.CycleState, _ *core.Pod, nodeInfo *core.NodeInfo) *framework.Status {
	for _, c := range nodeInfo.Node.Conditions {
		if c.Type == ReadyCondition {
			if !c.Status {
				return framework.NewStatus(framework.UnschedulableAndUnresolvable, "node is not Ready")
			}
			return nil
		}
	}
	// No Ready condition reported at all means the agent has never heartbeat;
	// treat like not-Ready rather than assuming healthy.
	return framework.NewStatus(framework.UnschedulableAndUnresolvable, "node has not reported a Ready condition")
}
