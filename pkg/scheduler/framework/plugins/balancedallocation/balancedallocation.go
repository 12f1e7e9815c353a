// Package balancedallocation implements a Score plugin that favors nodes whose
// CPU and memory fractional usage are close to each other after hypothetically
// placing the pod, the same heuristic Kubernetes' NodeResourcesBalancedAllocation
// plugin uses, generalized from the Rust plugin roster the distillation named
// (original_source libscheduler/src/plugins/mod.rs imports a balanced_allocation
// module alongside node_resources_fit).
package balancedallocation

import (
	"context"
	"math"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
	corev1 "k8s.io/api/core/v1"
)

const Name = "NodeResourcesBalancedAllocation"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func fraction(requested, capacity corev1.ResourceList, name corev1.ResourceName) float64 {
	cap, ok := capacity[name]
	if !ok || cap.MilliValue() == 0 {
		return 0
	}
	req := requested[name]
	return float64(req.MilliValue()) / float64(cap.MilliValue())
}

func (p *Plugin) Score(_ context.Context, _ *framework.CycleState, pod *core.Pod, nodeInfo *core.NodeInfo) (int64, *framework.Status) {
	used := nodeInfo.RequestedResources()
	hypothetical := used.DeepCopy()
	for name, qty := range pod.Spec.Requests {
		sum := hypothetical[name].DeepCopy()
		sum.Add(qty)
		hypothetical[name] = sum
	}

	cpuFrac := fraction(hypothetical, nodeInfo.Node.Allocatable, corev1.ResourceCPU)
	memFrac := fraction(hypothetical, nodeInfo.Node.Allocatable, corev1.ResourceMemory)

	if cpuFrac > 1 || memFrac > 1 {
		// Would overcommit; node_resources_fit should already have excluded this
		// node, but score it at the floor defensively rather than producing a
		// score outside [MinNodeScore, MaxNodeScore].
		return framework.MinNodeScore, nil
	}

	diff := math.Abs(cpuFrac - memFrac)
	score := int64((1 - diff) * float64(framework.MaxNodeScore))
	return score, nil
}

func (p *Plugin) ScoreExtensions() framework.ScoreExtensions { return nil }
