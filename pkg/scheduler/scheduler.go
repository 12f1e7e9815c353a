// Package scheduler wires the framework, queue, and events packages into
// complete scheduling cycles, adapted from
// shovanmaity-volume-scheduler/scheduler/scheduler.go's run loop and extended to
// the full pipeline spec.md §4.1 describes: PreEnqueue admission, Filter/Score
// against the live node set, Reserve/Permit/PreBind/Bind/PostBind, and requeue
// handling for rejected pods.
package scheduler

import (
	"context"
	"time"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/events"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
	"github.com/arken-sh/arken/pkg/scheduler/framework/runtime"
	"github.com/arken-sh/arken/pkg/scheduler/queue"
	"github.com/sirupsen/logrus"
)

// ClusterView supplies the live node set a cycle filters and scores against.
type ClusterView interface {
	Nodes() []*core.NodeInfo
}

// Scheduler runs scheduling cycles one pod at a time off its internal queue.
type Scheduler struct {
	fw      *runtime.Framework
	q       *queue.SchedulingQueue
	cluster ClusterView
	broker  *events.Broker

	tickInterval time.Duration
}

// Config bundles the pieces New needs to assemble a Scheduler.
type Config struct {
	Framework    *runtime.Framework
	Cluster      ClusterView
	Broker       *events.Broker
	EnqueueHints []framework.ClusterEventWithHint
	TickInterval time.Duration
}

func New(cfg Config) *Scheduler {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	return &Scheduler{
		fw:           cfg.Framework,
		q:            queue.New(cfg.Framework.QueueSortLess, cfg.EnqueueHints),
		cluster:      cfg.Cluster,
		broker:       cfg.Broker,
		tickInterval: tick,
	}
}

// Enqueue admits a newly created pod: it runs PreEnqueue and, on success, places
// the pod in the active queue; on an Unschedulable verdict it goes straight to
// the unschedulable pool instead of active, per spec.md §4.1.
func (s *Scheduler) Enqueue(ctx context.Context, pod *core.Pod) {
	if status := s.fw.RunPreEnqueuePlugins(ctx, pod); status != nil {
		s.q.AddUnschedulable(pod, map[string]struct{}{status.PluginName(): {}})
		return
	}
	s.q.Add(pod)
}

// Run drives the scheduling loop until ctx is canceled: pop a pod, run one
// cycle, and also service the event broker and backoff-expiry tick
// concurrently.
func (s *Scheduler) Run(ctx context.Context, subscription <-chan events.Envelope) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-subscription:
			s.q.HandleClusterEvent(env.Event, env.Inner, env.Event.Action.Has(framework.Add))
		case <-ticker.C:
			s.q.MoveExpiredBackoff(nowFunc())
			s.drainActive(ctx)
		}
	}
}

// nowFunc exists so tests can override wall-clock time; production always uses
// time.Now.
var nowFunc = time.Now

func (s *Scheduler) drainActive(ctx context.Context) {
	for {
		pod := s.q.Pop()
		if pod == nil {
			return
		}
		s.runCycle(ctx, pod)
	}
}

// runCycle runs the full pipeline for one pod, per spec.md §4.1's phase order.
// A cycle ends in exactly one of: bound, parked in backoff (Error/transient),
// or parked unschedulable (Unschedulable/UnschedulableAndUnresolvable after
// PostFilter).
func (s *Scheduler) runCycle(ctx context.Context, pod *core.Pod) {
	log := logrus.WithField("pod", pod.NamespacedName())
	state := framework.NewCycleState()
	nodes := s.cluster.Nodes()

	preFilterResult, status := s.fw.RunPreFilterPlugins(ctx, state, pod, nodes)
	if status != nil {
		s.handleRejection(pod, status, log)
		return
	}
	candidates := applyPreFilterResult(nodes, preFilterResult)

	feasible, nodeToStatus, status := s.fw.RunFilterPluginsForNodes(ctx, state, pod, candidates)
	if status != nil {
		s.handleRejection(pod, status, log)
		return
	}

	if len(feasible) == 0 {
		result, pfStatus := s.fw.RunPostFilterPlugins(ctx, state, pod, nodeToStatus)
		if pfStatus != nil && pfStatus.IsSuccess() && result != nil && result.NominatedNodeName != "" {
			feasible = filterByName(candidates, result.NominatedNodeName)
		}
		if len(feasible) == 0 {
			if pfStatus == nil {
				pfStatus = framework.NewStatus(framework.UnschedulableAndUnresolvable, "no feasible nodes and no PostFilter plugins configured")
			}
			s.handleRejection(pod, pfStatus, log)
			return
		}
	}

	state.Freeze()

	if status := s.fw.RunPreScorePlugins(ctx, state, pod, feasible); status != nil {
		s.handleRejection(pod, status, log)
		return
	}

	scores, status := s.fw.RunScorePlugins(ctx, state, pod, feasible)
	if status != nil {
		s.handleRejection(pod, status, log)
		return
	}

	chosen := pickHighestScored(feasible, scores)

	succeeded, status := s.fw.RunReservePluginsReserve(ctx, state, pod, chosen)
	if status != nil {
		s.fw.RunReservePluginsUnreserve(ctx, state, pod, chosen, succeeded)
		s.handleRejection(pod, status, log)
		return
	}

	permitStatus, waitTimeout := s.fw.RunPermitPlugins(ctx, state, pod, chosen)
	if permitStatus != nil && permitStatus.Code() == framework.Wait {
		log.WithField("timeout", waitTimeout).Info("pod parked awaiting Permit approval")
		// A full Wait implementation would park the cycle goroutine-side with a
		// timer; omitted here as out of scope beyond recording the verdict.
		s.fw.RunReservePluginsUnreserve(ctx, state, pod, chosen, succeeded)
		s.handleRejection(pod, permitStatus, log)
		return
	}
	if permitStatus != nil {
		s.fw.RunReservePluginsUnreserve(ctx, state, pod, chosen, succeeded)
		s.handleRejection(pod, permitStatus, log)
		return
	}

	if status := s.fw.RunPreBindPlugins(ctx, state, pod, chosen); status != nil {
		s.fw.RunReservePluginsUnreserve(ctx, state, pod, chosen, succeeded)
		s.handleRejection(pod, status, log)
		return
	}

	if status := s.fw.RunBindPlugins(ctx, state, pod, chosen); status != nil {
		s.fw.RunReservePluginsUnreserve(ctx, state, pod, chosen, succeeded)
		s.handleRejection(pod, status, log)
		return
	}

	s.fw.RunPostBindPlugins(ctx, state, pod, chosen)
	log.WithField("node", chosen).Info("pod bound")
}

// handleRejection routes a failed cycle to backoff (Error), back to backoff
// with no added delay or attempt (Pending, so the next tick retries it), or the
// unschedulable pool (every other code), per spec.md §4.1.
func (s *Scheduler) handleRejection(pod *core.Pod, status *framework.Status, log *logrus.Entry) {
	switch status.Code() {
	case framework.Pending:
		pod.NextTryTime = nowFunc()
		log.WithField("reason", status.Message()).Info("cycle pending; retrying on next tick")
		s.q.AddBackoff(pod)
	case framework.Error:
		pod.Attempts++
		pod.NextTryTime = nowFunc().Add(queue.BackoffDuration(pod.Attempts))
		log.WithError(status.AsError()).Warn("cycle error; parking in backoff")
		s.q.AddBackoff(pod)
	default:
		log.WithField("reason", status.Message()).Info("pod unschedulable; parking pending requeue hint")
		s.q.AddUnschedulable(pod, map[string]struct{}{status.PluginName(): {}})
	}
}

func applyPreFilterResult(nodes []*core.NodeInfo, result *framework.PreFilterResult) []*core.NodeInfo {
	if result == nil || result.NodeNames == nil {
		return nodes
	}
	out := make([]*core.NodeInfo, 0, len(result.NodeNames))
	for _, n := range nodes {
		if _, ok := result.NodeNames[n.Node.Name]; ok {
			out = append(out, n)
		}
	}
	return out
}

func filterByName(nodes []*core.NodeInfo, name string) []*core.NodeInfo {
	for _, n := range nodes {
		if n.Node.Name == name {
			return []*core.NodeInfo{n}
		}
	}
	return nil
}

func pickHighestScored(nodes []*core.NodeInfo, scores map[string]int64) string {
	var best string
	var bestScore int64 = -1
	for _, n := range nodes {
		if sc := scores[n.Node.Name]; sc > bestScore {
			bestScore = sc
			best = n.Node.Name
		}
	}
	return best
}
