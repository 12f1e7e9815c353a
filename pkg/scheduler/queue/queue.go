// Package queue implements the scheduler's three pod queues from spec.md §4.1:
// active (ready to schedule, ordered by the QueueSort plugin), backoff (cooling
// down after a transient failure, ordered by next_try_time), and unschedulable
// (parked pending a cluster-event requeue hint). Both ordered queues are backed by
// github.com/google/btree, already present in the teacher's dependency graph
// (pulled in transitively through the containerd/etcd stack) and a natural fit
// for an ordered queue keyed by an arbitrary comparator.
package queue

import (
	"sync"
	"time"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
	"github.com/google/btree"
	"github.com/sirupsen/logrus"
)

// backoffBase and backoffCap implement the "delay grows as base * 2^min(attempts,
// cap)" rule from spec.md §4.1, with a documented ceiling.
const (
	backoffBase     = 1 * time.Second
	backoffCapShift = 6 // 2^6 == 64x base, i.e. a ceiling of ~64s on top of base
)

// BackoffDuration computes the backoff delay for the given attempt count.
func BackoffDuration(attempts int) time.Duration {
	shift := attempts
	if shift > backoffCapShift {
		shift = backoffCapShift
	}
	return backoffBase * time.Duration(uint64(1)<<uint(shift))
}

type activeItem struct {
	pod  *core.Pod
	less func(a, b *core.Pod) bool
}

func (a activeItem) Less(than btree.Item) bool {
	b := than.(activeItem)
	if a.less(a.pod, b.pod) {
		return true
	}
	if b.less(b.pod, a.pod) {
		return false
	}
	// Total order tie-break so btree never treats two distinct pods as equal.
	return a.pod.NamespacedName() < b.pod.NamespacedName()
}

type backoffItem struct {
	pod *core.Pod
}

func (a backoffItem) Less(than btree.Item) bool {
	b := than.(backoffItem)
	if !a.pod.NextTryTime.Equal(b.pod.NextTryTime) {
		return a.pod.NextTryTime.Before(b.pod.NextTryTime)
	}
	return a.pod.NamespacedName() < b.pod.NamespacedName()
}

// UnschedulableEntry records why a parked pod was rejected, so requeue hints can
// tell whether a cluster event is relevant to it.
type UnschedulableEntry struct {
	Pod             *core.Pod
	RejectedPlugins map[string]struct{}
}

// SchedulingQueue is the scheduler's full queue state: active, backoff, and the
// unschedulable pool, plus the set of (event -> hint) registrations every plugin
// contributed via EnqueueExtension.
type SchedulingQueue struct {
	mu sync.Mutex

	less    func(a, b *core.Pod) bool
	active  *btree.BTree
	backoff *btree.BTree

	unschedulable map[string]*UnschedulableEntry
	hints         []framework.ClusterEventWithHint
}

// New builds an empty SchedulingQueue ordered by less (the configured QueueSort
// plugin's comparator) with the given requeue hint registrations.
func New(less func(a, b *core.Pod) bool, hints []framework.ClusterEventWithHint) *SchedulingQueue {
	return &SchedulingQueue{
		less:          less,
		active:        btree.New(32),
		backoff:       btree.New(32),
		unschedulable: make(map[string]*UnschedulableEntry),
		hints:         hints,
	}
}

// Add places pod directly into the active queue (used for new pods, and for pods
// a requeue hint promotes straight to Active rather than Backoff).
func (q *SchedulingQueue) Add(pod *core.Pod) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active.ReplaceOrInsert(activeItem{pod: pod, less: q.less})
}

// Pop removes and returns the highest-priority pod from the active queue, or nil
// if it is empty.
func (q *SchedulingQueue) Pop() *core.Pod {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.active.DeleteMin()
	if item == nil {
		return nil
	}
	return item.(activeItem).pod
}

// AddBackoff parks pod in the backoff queue after a Transient (Error-coded)
// rejection, with NextTryTime already set by the caller using BackoffDuration.
func (q *SchedulingQueue) AddBackoff(pod *core.Pod) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.backoff.ReplaceOrInsert(backoffItem{pod: pod})
}

// MoveExpiredBackoff moves every backoff pod whose NextTryTime has passed into
// the active queue. Call periodically from the scheduling loop's tick.
func (q *SchedulingQueue) MoveExpiredBackoff(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var expired []backoffItem
	q.backoff.Ascend(func(item btree.Item) bool {
		bi := item.(backoffItem)
		if bi.pod.NextTryTime.After(now) {
			return false // btree.Ascend visits in order; nothing further is expired yet
		}
		expired = append(expired, bi)
		return true
	})
	for _, bi := range expired {
		q.backoff.Delete(bi)
		q.active.ReplaceOrInsert(activeItem{pod: bi.pod, less: q.less})
	}
}

// AddUnschedulable parks pod in the unschedulable pool, recording which plugins
// rejected it this cycle.
func (q *SchedulingQueue) AddUnschedulable(pod *core.Pod, rejectedBy map[string]struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pod.LastFailurePlugins = rejectedBy
	q.unschedulable[pod.NamespacedName()] = &UnschedulableEntry{Pod: pod, RejectedPlugins: rejectedBy}
}

// HandleClusterEvent scans the unschedulable pool (never the whole cluster, per
// spec.md §4.1) for pods whose rejection set intersects event's registered
// plugins, invokes each matching plugin's hint function, and moves HintQueue
// verdicts to backoff (or active, if moveToActive is true — used for Add/Delete
// events that should not incur a fresh backoff penalty). An error from a hint
// function is treated as HintQueue, never HintSkip, to avoid starving a pod.
func (q *SchedulingQueue) HandleClusterEvent(event framework.ClusterEvent, inner framework.EventInner, moveToActive bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, entry := range q.unschedulable {
		relevant := false
		for _, h := range q.hints {
			if h.Event.Resource != event.Resource || h.Event.Action&event.Action == 0 {
				continue
			}
			// Only consult hints from plugins that actually rejected this pod.
			if _, rejectedByThisPlugin := entry.RejectedPlugins[h.PluginName]; !rejectedByThisPlugin {
				continue
			}
			relevant = true
			hint, err := h.HintFn(entry.Pod, inner)
			if err != nil {
				logrus.WithError(err).Warn("requeue hint function failed; defaulting to Queue to avoid starving pod")
				hint = framework.HintQueue
			}
			if hint == framework.HintQueue {
				delete(q.unschedulable, key)
				if moveToActive {
					q.active.ReplaceOrInsert(activeItem{pod: entry.Pod, less: q.less})
				} else {
					q.backoff.ReplaceOrInsert(backoffItem{pod: entry.Pod})
				}
				break
			}
		}
		_ = relevant
	}
}

// Len reports the number of pods currently active, for metrics/tests.
func (q *SchedulingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active.Len()
}

// UnschedulableLen reports the size of the unschedulable pool.
func (q *SchedulingQueue) UnschedulableLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.unschedulable)
}
