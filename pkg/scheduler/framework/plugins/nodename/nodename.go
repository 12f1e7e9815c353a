// Package nodename implements a Filter plugin that rejects a node whenever the
// pod requests a specific node by name (via spec.NodeSelector["kubernetes.io/hostname"])
// and the candidate node does not match it.
package nodename

import (
	"context"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
)

const Name = "NodeName"

// HostnameLabel is the well-known selector key this plugin checks.
const HostnameLabel = "kubernetes.io/hostname"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Filter(_ context.Context, _ *framework.CycleState, pod *core.Pod, nodeInfo *core.NodeInfo) *framework.Status {
	want, ok := pod.Spec.NodeSelector[HostnameLabel]
	if !ok || want == "" {
		return nil
	}
	if want != nodeInfo.Node.Name {
		return framework.NewStatus(framework.UnschedulableAndUnresolvable,
			"node(s) didn't match the requested hostname")
	}
	return nil
}
