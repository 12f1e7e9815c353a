// Package noderesourcesfit implements the PreFilter+Filter pair that rejects nodes
// without enough allocatable CPU/memory left for a pod's requests, using
// k8s.io/apimachinery's resource.Quantity arithmetic the way the teacher and the
// rest of the pack represent resource requests.
package noderesourcesfit

import (
	"context"
	"fmt"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
	corev1 "k8s.io/api/core/v1"
)

const Name = "NodeResourcesFit"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

// preFilterState caches the pod's own requests so Filter does not recompute them
// for every candidate node.
type preFilterState struct {
	requests corev1.ResourceList
}

func (s *preFilterState) Clone() framework.StateData { c := *s; return &c }

const stateKey framework.StateKey = Name

func (p *Plugin) PreFilter(_ context.Context, state *framework.CycleState, pod *core.Pod, _ []*core.NodeInfo) (*framework.PreFilterResult, *framework.Status) {
	if err := state.Write(stateKey, &preFilterState{requests: pod.Spec.Requests}); err != nil {
		return nil, framework.AsStatus(err)
	}
	return nil, nil
}

func (p *Plugin) Filter(_ context.Context, state *framework.CycleState, pod *core.Pod, nodeInfo *core.NodeInfo) *framework.Status {
	requests := pod.Spec.Requests
	if data, err := state.Read(stateKey); err == nil {
		requests = data.(*preFilterState).requests
	}

	used := nodeInfo.RequestedResources()
	allocatable := nodeInfo.Node.Allocatable

	var insufficient []string
	for name, want := range requests {
		have, ok := allocatable[name]
		if !ok {
			insufficient = append(insufficient, string(name))
			continue
		}
		already := used[name]
		total := already.DeepCopy()
		total.Add(want)
		if total.Cmp(have) > 0 {
			insufficient = append(insufficient, string(name))
		}
	}
	if len(insufficient) > 0 {
		return framework.NewStatus(framework.Unschedulable, fmt.Sprintf("Insufficient %v", insufficient))
	}
	return nil
}

// EventsToRegister revives a pod rejected here when the node's allocatable
// capacity increases (e.g. another pod on it completed) or a node is added.
func (p *Plugin) EventsToRegister() []framework.ClusterEventWithHint {
	return []framework.ClusterEventWithHint{
		{
			Event:      framework.ClusterEvent{Resource: framework.ResourceNode, Action: framework.UpdateNodeAllocatable},
			HintFn:     func(*core.Pod, framework.EventInner) (framework.QueueingHint, error) { return framework.HintQueue, nil },
			PluginName: Name,
		},
		{
			Event:      framework.ClusterEvent{Resource: framework.ResourceNode, Action: framework.Add},
			HintFn:     func(*core.Pod, framework.EventInner) (framework.QueueingHint, error) { return framework.HintQueue, nil },
			PluginName: Name,
		},
	}
}
