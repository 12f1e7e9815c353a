// Package tainttoleration implements the taint/toleration Filter plugin: a node
// tainted with NoSchedule or NoExecute effect excludes pods that do not tolerate
// it. Reuses corev1.Taint/Toleration directly rather than a bespoke type, matching
// how the teacher's vendored k8s.io/api is used across the pack.
package tainttoleration

import (
	"context"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
	corev1 "k8s.io/api/core/v1"
)

const Name = "TaintToleration"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func tolerates(taint corev1.Taint, tolerations []corev1.Toleration) bool {
	for _, t := range tolerations {
		if t.ToleratesTaint(&taint) {
			return true
		}
	}
	return false
}

func (p *Plugin) Filter(_ context.Context, _ *framework.CycleState, pod *core.Pod, nodeInfo *core.NodeInfo) *framework.Status {
	for _, taint := range nodeInfo.Node.Taints {
		if taint.Effect != corev1.TaintEffectNoSchedule && taint.Effect != corev1.TaintEffectNoExecute {
			continue
		}
		if !tolerates(taint, pod.Spec.Tolerations) {
			return framework.NewStatus(framework.UnschedulableAndUnresolvable,
				"node(s) had untolerated taint {"+taint.Key+": "+taint.Value+"}")
		}
	}
	return nil
}
