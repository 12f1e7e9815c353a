package queue

import (
	"testing"
	"time"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func podNamed(name string, priority int32) *core.Pod {
	return &core.Pod{Spec: core.PodSpec{Name: name, Priority: priority}}
}

func byPriority(a, b *core.Pod) bool {
	return a.Spec.Priority > b.Spec.Priority
}

func TestBackoffDurationCeiling(t *testing.T) {
	assert.Equal(t, backoffBase, BackoffDuration(0))
	assert.Equal(t, backoffBase*2, BackoffDuration(1))
	assert.Equal(t, backoffBase*64, BackoffDuration(backoffCapShift))
	assert.Equal(t, backoffBase*64, BackoffDuration(backoffCapShift+50), "attempts beyond the cap must not grow the delay further")
}

func TestActiveQueueOrdersByComparator(t *testing.T) {
	q := New(byPriority, nil)
	q.Add(podNamed("low", 1))
	q.Add(podNamed("high", 10))
	q.Add(podNamed("mid", 5))

	require.Equal(t, "high", q.Pop().Spec.Name)
	require.Equal(t, "mid", q.Pop().Spec.Name)
	require.Equal(t, "low", q.Pop().Spec.Name)
	assert.Nil(t, q.Pop())
}

func TestMoveExpiredBackoffOnlyMovesReadyPods(t *testing.T) {
	q := New(byPriority, nil)
	now := time.Now()

	ready := podNamed("ready", 1)
	ready.NextTryTime = now.Add(-time.Second)
	q.AddBackoff(ready)

	notReady := podNamed("not-ready", 1)
	notReady.NextTryTime = now.Add(time.Hour)
	q.AddBackoff(notReady)

	q.MoveExpiredBackoff(now)

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "ready", q.Pop().Spec.Name)
}

func TestHandleClusterEventRequeuesOnlyMatchingRejections(t *testing.T) {
	hintCalls := 0
	hints := []framework.ClusterEventWithHint{
		{
			Event:      framework.ClusterEvent{Resource: framework.ResourceNode, Action: framework.Add},
			PluginName: "NodeResourcesFit",
			HintFn: func(pod *core.Pod, event framework.EventInner) (framework.QueueingHint, error) {
				hintCalls++
				return framework.HintQueue, nil
			},
		},
	}
	q := New(byPriority, hints)

	rejectedByFit := podNamed("fit-rejected", 1)
	q.AddUnschedulable(rejectedByFit, map[string]struct{}{"NodeResourcesFit": {}})

	rejectedByOther := podNamed("other-rejected", 1)
	q.AddUnschedulable(rejectedByOther, map[string]struct{}{"TaintToleration": {}})

	q.HandleClusterEvent(framework.ClusterEvent{Resource: framework.ResourceNode, Action: framework.Add}, framework.EventInner{}, true)

	assert.Equal(t, 1, hintCalls, "hint should only be consulted for the pod NodeResourcesFit actually rejected")
	assert.Equal(t, 1, q.UnschedulableLen(), "the pod rejected by a different plugin stays parked")
	assert.Equal(t, 1, q.Len(), "the revived pod moves to active")
}

func TestHandleClusterEventHintErrorDefaultsToQueue(t *testing.T) {
	hints := []framework.ClusterEventWithHint{
		{
			Event:      framework.ClusterEvent{Resource: framework.ResourcePod, Action: framework.Delete},
			PluginName: "NodeResourcesFit",
			HintFn: func(pod *core.Pod, event framework.EventInner) (framework.QueueingHint, error) {
				return framework.HintSkip, assert.AnError
			},
		},
	}
	q := New(byPriority, hints)
	pod := podNamed("errored-hint", 1)
	q.AddUnschedulable(pod, map[string]struct{}{"NodeResourcesFit": {}})

	q.HandleClusterEvent(framework.ClusterEvent{Resource: framework.ResourcePod, Action: framework.Delete}, framework.EventInner{}, false)

	assert.Equal(t, 0, q.UnschedulableLen(), "an erroring hint must default to Queue, never leave the pod stuck")
}
