// Package nodeaffinity implements the NodeSelector Filter plugin: a pod with a
// non-empty Spec.NodeSelector only fits nodes whose labels are a superset of it.
// Grounded on k8s.io/apimachinery/pkg/labels, which the teacher's go.mod already
// carries transitively through client-go.
package nodeaffinity

import (
	"context"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
	"k8s.io/apimachinery/pkg/labels"
)

const Name = "NodeAffinity"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Filter(_ context.Context, _ *framework.CycleState, pod *core.Pod, nodeInfo *core.NodeInfo) *framework.Status {
	if len(pod.Spec.NodeSelector) == 0 {
		return nil
	}
	selector := labels.SelectorFromSet(labels.Set(pod.Spec.NodeSelector))
	if !selector.Matches(labels.Set(nodeInfo.Node.Labels)) {
		return framework.NewStatus(framework.UnschedulableAndUnresolvable,
			"node(s) didn't match Pod's node selector")
	}
	return nil
}
