// Package framework defines the scheduling framework's plugin contracts: the
// phases from spec.md §4.1 (PreEnqueue through PostBind), the Status/Code result
// type, and the CycleState scratch map plugins use to pass data down the pipeline.
// The shape of these interfaces is grounded directly on
// shovanmaity-volume-scheduler/framework/interface.go from the retrieval pack (a Go
// scheduling framework for a sibling domain, volume-to-pool placement) generalized
// back to the pod/node vocabulary the distilled Rust source
// (original_source/project/libscheduler/src/plugins/mod.rs) actually describes.
package framework

import (
	"context"
	"time"

	core "github.com/arken-sh/arken/pkg/apis/core"
)

// Plugin is the parent type every scheduling plugin implements.
type Plugin interface {
	Name() string
}

// PreEnqueuePlugin gates a pod before it is admitted to the active queue at all.
// Must be cheap: no external I/O. A non-Success status holds the pod in the
// unschedulable queue until a requeue hint fires.
type PreEnqueuePlugin interface {
	Plugin
	PreEnqueue(ctx context.Context, pod *core.Pod) *Status
}

// QueueSortPlugin defines the total order on pending pods in the active queue.
// Exactly one QueueSort plugin may be enabled.
type QueueSortPlugin interface {
	Plugin
	// Less reports whether a should be scheduled before b.
	Less(a, b *core.Pod) bool
}

// PreFilterResult optionally narrows the node set a Filter phase evaluates.
type PreFilterResult struct {
	NodeNames map[string]struct{}
}

// PreFilterPlugin runs once per cycle before Filter. Returning Skip bypasses the
// plugin's paired Filter extension for this cycle; a non-Success, non-Skip status
// rejects the pod for the cycle.
type PreFilterPlugin interface {
	Plugin
	PreFilter(ctx context.Context, state *CycleState, pod *core.Pod, nodes []*core.NodeInfo) (*PreFilterResult, *Status)
}

// FilterPlugin evaluates one node against one pod. Every enabled Filter plugin
// must return Success for a node to remain feasible.
type FilterPlugin interface {
	Plugin
	Filter(ctx context.Context, state *CycleState, pod *core.Pod, nodeInfo *core.NodeInfo) *Status
}

// NodeToStatus records, for each node evaluated during Filter, the status that
// excluded it (or Success for a node that passed every Filter plugin).
type NodeToStatus struct {
	m map[string]*Status
}

// NewNodeToStatus returns an empty NodeToStatus map.
func NewNodeToStatus() *NodeToStatus {
	return &NodeToStatus{m: make(map[string]*Status)}
}

// Set records the status a node was annotated with during the most recent Filter
// phase.
func (n *NodeToStatus) Set(nodeName string, status *Status) {
	n.m[nodeName] = status
}

// Get returns the recorded status for nodeName, if any.
func (n *NodeToStatus) Get(nodeName string) (*Status, bool) {
	s, ok := n.m[nodeName]
	return s, ok
}

// NodesForStatusCode returns every node annotated with code during the most recent
// Filter phase — including Success, which returns the nodes that passed every
// Filter plugin. This resolves the spec.md §9 Open Question on
// nodes_for_status_code: the map is populated for every node Filter evaluated, not
// only the rejected ones, so "nodes with Success" is simply "the feasible set".
func (n *NodeToStatus) NodesForStatusCode(code Code) []string {
	var out []string
	for name, s := range n.m {
		if s.Code() == code {
			out = append(out, name)
		}
	}
	return out
}

// PostFilterResult carries a nominated node name back to the scheduler (e.g. after
// preemption clears space), which triggers a new cycle for the pod.
type PostFilterResult struct {
	NominatedNodeName string
}

// PostFilterPlugin runs only when no node survived Filter. Typically implements
// preemption; may also simply confirm the pod is unresolvable.
type PostFilterPlugin interface {
	Plugin
	PostFilter(ctx context.Context, state *CycleState, pod *core.Pod, filtered *NodeToStatus) (*PostFilterResult, *Status)
}

// PreScorePlugin is informational: it runs once, with the feasible node set, before
// Score. All PreScore plugins must return Success or the pod is rejected.
type PreScorePlugin interface {
	Plugin
	PreScore(ctx context.Context, state *CycleState, pod *core.Pod, nodes []*core.NodeInfo) *Status
}

// NodeScore is one plugin's raw (pre-normalization) score for one node.
type NodeScore struct {
	Name  string
	Score int64
}

// MaxNodeScore is the ceiling NormalizeScore rescales into, per spec.md §4.1.
const MaxNodeScore int64 = 100

// MinNodeScore is the floor NormalizeScore rescales into.
const MinNodeScore int64 = 0

// ScoreExtensions, if a ScorePlugin implements it, rescales that plugin's raw
// scores into [MinNodeScore, MaxNodeScore].
type ScoreExtensions interface {
	NormalizeScore(ctx context.Context, state *CycleState, pod *core.Pod, scores []NodeScore) *Status
}

// ScorePlugin ranks one feasible node for one pod. Only called when at least one
// feasible node exists.
type ScorePlugin interface {
	Plugin
	Score(ctx context.Context, state *CycleState, pod *core.Pod, nodeInfo *core.NodeInfo) (int64, *Status)
	ScoreExtensions() ScoreExtensions
}

// ReservePlugin must be transactional with its own Unreserve: if Reserve fails for
// any plugin, Unreserve runs for every plugin that previously succeeded in this
// cycle, in reverse registration order.
type ReservePlugin interface {
	Plugin
	Reserve(ctx context.Context, state *CycleState, pod *core.Pod, nodeName string) *Status
	Unreserve(ctx context.Context, state *CycleState, pod *core.Pod, nodeName string)
}

// PermitPlugin may delay binding. Returning Wait ends the cycle: the scheduler
// logs the returned timeout, rolls back Reserve and parks the pod in the
// unschedulable pool. No timer holds the pod for that timeout, and there is no
// approve/deny signal path.
type PermitPlugin interface {
	Plugin
	Permit(ctx context.Context, state *CycleState, pod *core.Pod, nodeName string) (*Status, time.Duration)
}

// PreBindPlugin runs immediately before Bind. A non-Success status rejects the pod
// and it is never sent to Bind.
type PreBindPlugin interface {
	Plugin
	PreBind(ctx context.Context, state *CycleState, pod *core.Pod, nodeName string) *Status
}

// BindPlugin performs the actual (pod, node) binding. The first Bind plugin that
// does not return Skip handles the pod; no further Bind plugins run on it.
type BindPlugin interface {
	Plugin
	Bind(ctx context.Context, state *CycleState, pod *core.Pod, nodeName string) *Status
}

// PostBindPlugin is a best-effort notification after a successful bind. Errors are
// logged, never propagated back to the cycle.
type PostBindPlugin interface {
	Plugin
	PostBind(ctx context.Context, state *CycleState, pod *core.Pod, nodeName string)
}
