package scheduler

import (
	"context"
	"testing"
	"time"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/defaultbinder"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/nodename"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/priority"
	"github.com/arken-sh/arken/pkg/scheduler/framework/runtime"
	"github.com/arken-sh/arken/pkg/scheduler/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct{ nodes []*core.NodeInfo }

func (c *fakeCluster) Nodes() []*core.NodeInfo { return c.nodes }

func newTestFramework(t *testing.T, bind defaultbinder.BindFunc) *runtime.Framework {
	t.Helper()
	return runtime.New(
		nil,
		priority.New(),
		nil,
		[]framework.FilterPlugin{nodename.New()},
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		[]framework.BindPlugin{defaultbinder.New(bind)},
		nil,
	)
}

func TestRunCycleBindsFeasiblePod(t *testing.T) {
	var boundNode string
	fw := newTestFramework(t, func(ctx context.Context, pod *core.Pod, nodeName string) error {
		boundNode = nodeName
		return nil
	})

	node := core.NewNodeInfo(&core.Node{Name: "node-a"}, nil, 1)
	pod := &core.Pod{Spec: core.PodSpec{
		Name:         "web-1",
		NodeSelector: map[string]string{"kubernetes.io/hostname": "node-a"},
	}}

	s := New(Config{Framework: fw, Cluster: &fakeCluster{nodes: []*core.NodeInfo{node}}})
	s.runCycle(context.Background(), pod)

	assert.Equal(t, "node-a", boundNode)
	assert.Equal(t, 0, s.q.UnschedulableLen())
}

func TestRunCycleParksUnschedulableWhenNoNodeMatches(t *testing.T) {
	fw := newTestFramework(t, func(ctx context.Context, pod *core.Pod, nodeName string) error {
		t.Fatal("bind must not run when no node is feasible")
		return nil
	})

	node := core.NewNodeInfo(&core.Node{Name: "node-a"}, nil, 1)
	pod := &core.Pod{Spec: core.PodSpec{
		Name:         "web-2",
		NodeSelector: map[string]string{"kubernetes.io/hostname": "node-b"},
	}}

	s := New(Config{Framework: fw, Cluster: &fakeCluster{nodes: []*core.NodeInfo{node}}})
	s.runCycle(context.Background(), pod)

	require.Equal(t, 1, s.q.UnschedulableLen())
}

func TestEnqueueRejectsOnPreEnqueueFailure(t *testing.T) {
	blocking := blockingPreEnqueue{}
	fw := runtime.New(
		[]framework.PreEnqueuePlugin{blocking},
		priority.New(),
		nil, nil, nil, nil, nil, nil, nil, nil,
		[]framework.BindPlugin{defaultbinder.New(func(context.Context, *core.Pod, string) error { return nil })},
		nil,
	)
	s := New(Config{Framework: fw, Cluster: &fakeCluster{}})
	pod := &core.Pod{Spec: core.PodSpec{Name: "gated", SchedulingGates: []string{"wait-for-secret"}}}

	s.Enqueue(context.Background(), pod)

	assert.Equal(t, 0, s.q.Len())
	assert.Equal(t, 1, s.q.UnschedulableLen())
}

type blockingPreEnqueue struct{}

func (blockingPreEnqueue) Name() string { return "BlockingGate" }
func (blockingPreEnqueue) PreEnqueue(_ context.Context, pod *core.Pod) *framework.Status {
	if len(pod.Spec.SchedulingGates) > 0 {
		return framework.NewStatus(framework.Unschedulable, "scheduling gates not yet cleared")
	}
	return nil
}

func TestBackoffDurationIsMonotonicNonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for attempts := 0; attempts < 10; attempts++ {
		d := queue.BackoffDuration(attempts)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}
