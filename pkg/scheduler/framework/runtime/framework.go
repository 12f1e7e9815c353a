// Package runtime executes one scheduling cycle's phases in order, running each
// phase's plugins in registration order per spec.md §4.1. The control flow here is
// adapted directly from shovanmaity-volume-scheduler/framework/runtime/framework.go
// (a Go scheduling-framework runtime for volume-to-pool placement in the retrieval
// pack), extended with the phases that sibling omitted — PreEnqueue, PostFilter's
// NodeToStatus argument, PreScore, Score weighting/normalization, and Permit's Wait
// semantics — to match the full pipeline spec.md §4.1 specifies.
package runtime

import (
	"context"
	"fmt"
	"time"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
	"github.com/sirupsen/logrus"
)

// ScoredPlugin pairs a ScorePlugin with its configured weight (ignored for plugins
// outside Score).
type ScoredPlugin struct {
	Plugin framework.ScorePlugin
	Weight int32
}

// Framework holds the ordered plugin lists for every phase. Plugins run in the
// order they appear in each slice, matching spec.md §4.1 "plugins run in
// registration order".
type Framework struct {
	preEnqueuePlugins  []framework.PreEnqueuePlugin
	queueSortPlugin    framework.QueueSortPlugin
	preFilterPlugins   []framework.PreFilterPlugin
	filterPlugins      []framework.FilterPlugin
	postFilterPlugins  []framework.PostFilterPlugin
	preScorePlugins    []framework.PreScorePlugin
	scorePlugins       []ScoredPlugin
	reservePlugins     []framework.ReservePlugin
	permitPlugins      []framework.PermitPlugin
	preBindPlugins     []framework.PreBindPlugin
	bindPlugins        []framework.BindPlugin
	postBindPlugins    []framework.PostBindPlugin
}

// New builds a Framework. Each argument is the plugin list for its phase, already
// in registration order.
func New(
	preEnqueue []framework.PreEnqueuePlugin,
	queueSort framework.QueueSortPlugin,
	preFilter []framework.PreFilterPlugin,
	filter []framework.FilterPlugin,
	postFilter []framework.PostFilterPlugin,
	preScore []framework.PreScorePlugin,
	score []ScoredPlugin,
	reserve []framework.ReservePlugin,
	permit []framework.PermitPlugin,
	preBind []framework.PreBindPlugin,
	bind []framework.BindPlugin,
	postBind []framework.PostBindPlugin,
) *Framework {
	return &Framework{
		preEnqueuePlugins: preEnqueue,
		queueSortPlugin:   queueSort,
		preFilterPlugins:  preFilter,
		filterPlugins:     filter,
		postFilterPlugins: postFilter,
		preScorePlugins:   preScore,
		scorePlugins:      score,
		reservePlugins:    reserve,
		permitPlugins:     permit,
		preBindPlugins:    preBind,
		bindPlugins:       bind,
		postBindPlugins:   postBind,
	}
}

// QueueSortLess exposes the single configured QueueSort plugin's comparator.
func (f *Framework) QueueSortLess(a, b *core.Pod) bool {
	return f.queueSortPlugin.Less(a, b)
}

// RunPreEnqueuePlugins runs every PreEnqueue plugin. The first non-Success status
// holds the pod out of the active queue.
func (f *Framework) RunPreEnqueuePlugins(ctx context.Context, pod *core.Pod) *framework.Status {
	for _, pl := range f.preEnqueuePlugins {
		status := pl.PreEnqueue(ctx, pod)
		if !status.IsSuccess() {
			return status.WithPluginName(pl.Name())
		}
	}
	return nil
}

// RunPreFilterPlugins runs PreFilter plugins, short-circuiting and rejecting the
// pod for the cycle on the first non-Success/non-Skip status.
func (f *Framework) RunPreFilterPlugins(ctx context.Context, state *framework.CycleState, pod *core.Pod, nodes []*core.NodeInfo) (*framework.PreFilterResult, *framework.Status) {
	var result *framework.PreFilterResult
	for _, pl := range f.preFilterPlugins {
		r, status := pl.PreFilter(ctx, state, pod, nodes)
		if status.Code() == framework.Skip {
			continue
		}
		if !status.IsSuccess() {
			if status.IsUnschedulable() {
				return nil, status.WithPluginName(pl.Name())
			}
			return nil, framework.AsStatus(fmt.Errorf("running PreFilter plugin %q: %w", pl.Name(), status.AsError())).WithPluginName(pl.Name())
		}
		if r != nil {
			result = mergePreFilterResults(result, r)
		}
	}
	return result, nil
}

func mergePreFilterResults(a, b *framework.PreFilterResult) *framework.PreFilterResult {
	if a == nil {
		return b
	}
	merged := map[string]struct{}{}
	for name := range a.NodeNames {
		if _, ok := b.NodeNames[name]; ok {
			merged[name] = struct{}{}
		}
	}
	return &framework.PreFilterResult{NodeNames: merged}
}

// RunFilterPlugins evaluates every Filter plugin against one node. The first
// non-Success verdict wins and remaining filters for that node are skipped,
// matching spec.md §4.1.
func (f *Framework) RunFilterPlugins(ctx context.Context, state *framework.CycleState, pod *core.Pod, nodeInfo *core.NodeInfo) *framework.Status {
	for _, pl := range f.filterPlugins {
		status := pl.Filter(ctx, state, pod, nodeInfo)
		if !status.IsSuccess() {
			return status.WithPluginName(pl.Name())
		}
	}
	return nil
}

// RunFilterPluginsForNodes runs RunFilterPlugins across every candidate node,
// returning the feasible subset and a NodeToStatus annotated for every node
// evaluated (Success included, per NodesForStatusCode's contract).
func (f *Framework) RunFilterPluginsForNodes(ctx context.Context, state *framework.CycleState, pod *core.Pod, nodes []*core.NodeInfo) ([]*core.NodeInfo, *framework.NodeToStatus, *framework.Status) {
	nodeToStatus := framework.NewNodeToStatus()
	var feasible []*core.NodeInfo
	for _, n := range nodes {
		status := f.RunFilterPlugins(ctx, state, pod, n)
		if status == nil {
			status = framework.NewStatus(framework.Success)
		}
		if status.Code() == framework.Error {
			return nil, nil, status
		}
		nodeToStatus.Set(n.Node.Name, status)
		if status.IsSuccess() {
			feasible = append(feasible, n)
		}
	}
	return feasible, nodeToStatus, nil
}

// RunPostFilterPlugins runs PostFilter plugins in order until one returns Success
// (with an optional nominated node) or Error. If every plugin reports
// Unschedulable, the merged status carries the highest-precedence verdict.
func (f *Framework) RunPostFilterPlugins(ctx context.Context, state *framework.CycleState, pod *core.Pod, filtered *framework.NodeToStatus) (*framework.PostFilterResult, *framework.Status) {
	statuses := make(framework.PluginToStatus)
	for _, pl := range f.postFilterPlugins {
		result, status := pl.PostFilter(ctx, state, pod, filtered)
		if status.IsSuccess() {
			return result, status
		}
		if !status.IsUnschedulable() {
			return nil, framework.AsStatus(status.AsError())
		}
		statuses[pl.Name()] = status.WithPluginName(pl.Name())
	}
	return nil, statuses.Merge()
}

// RunPreScorePlugins runs PreScore plugins. Called only once at least one feasible
// node exists.
func (f *Framework) RunPreScorePlugins(ctx context.Context, state *framework.CycleState, pod *core.Pod, nodes []*core.NodeInfo) *framework.Status {
	for _, pl := range f.preScorePlugins {
		status := pl.PreScore(ctx, state, pod, nodes)
		if !status.IsSuccess() {
			return framework.AsStatus(fmt.Errorf("running PreScore plugin %q: %w", pl.Name(), status.AsError())).WithPluginName(pl.Name())
		}
	}
	return nil
}

// RunScorePlugins runs every Score plugin against every feasible node, normalizes
// each plugin's raw scores into [MinNodeScore, MaxNodeScore], applies the
// plugin's configured weight, and returns the weighted sum per node.
func (f *Framework) RunScorePlugins(ctx context.Context, state *framework.CycleState, pod *core.Pod, nodes []*core.NodeInfo) (map[string]int64, *framework.Status) {
	totals := make(map[string]int64, len(nodes))
	for _, sp := range f.scorePlugins {
		raw := make([]framework.NodeScore, 0, len(nodes))
		for _, n := range nodes {
			score, status := sp.Plugin.Score(ctx, state, pod, n)
			if !status.IsSuccess() {
				return nil, framework.AsStatus(fmt.Errorf("plugin %q failed: %w", sp.Plugin.Name(), status.AsError()))
			}
			raw = append(raw, framework.NodeScore{Name: n.Node.Name, Score: score})
		}
		if ext := sp.Plugin.ScoreExtensions(); ext != nil {
			if status := ext.NormalizeScore(ctx, state, pod, raw); !status.IsSuccess() {
				return nil, framework.AsStatus(fmt.Errorf("normalizing plugin %q: %w", sp.Plugin.Name(), status.AsError()))
			}
		}
		for _, ns := range raw {
			if ns.Score > framework.MaxNodeScore || ns.Score < framework.MinNodeScore {
				return nil, framework.AsStatus(fmt.Errorf("plugin %q returned out-of-range score %d for node %q", sp.Plugin.Name(), ns.Score, ns.Name))
			}
			totals[ns.Name] += ns.Score * int64(sp.Weight)
		}
	}
	return totals, nil
}

// RunReservePluginsReserve runs Reserve for every plugin in order. On the first
// failure it does not continue; the caller is expected to call
// RunReservePluginsUnreserve to roll back the plugins that already succeeded.
func (f *Framework) RunReservePluginsReserve(ctx context.Context, state *framework.CycleState, pod *core.Pod, nodeName string) (succeeded []framework.ReservePlugin, status *framework.Status) {
	for _, pl := range f.reservePlugins {
		status = pl.Reserve(ctx, state, pod, nodeName)
		if !status.IsSuccess() {
			return succeeded, framework.AsStatus(fmt.Errorf("running Reserve plugin %q: %w", pl.Name(), status.AsError())).WithPluginName(pl.Name())
		}
		succeeded = append(succeeded, pl)
	}
	return succeeded, nil
}

// RunReservePluginsUnreserve calls Unreserve on each plugin in succeeded, in
// reverse order, per spec.md §4.1 "Reserve must be transactional with Unreserve".
// Unreserve itself cannot fail in this interface; a plugin that needs to log a
// failure does so internally, matching spec.md §7's "Unreserve must never fail
// silently; its own errors are logged but do not mask the originating failure".
func (f *Framework) RunReservePluginsUnreserve(ctx context.Context, state *framework.CycleState, pod *core.Pod, nodeName string, succeeded []framework.ReservePlugin) {
	for i := len(succeeded) - 1; i >= 0; i-- {
		succeeded[i].Unreserve(ctx, state, pod, nodeName)
	}
}

// RunPermitPlugins runs Permit plugins in order. The first non-Success status (or
// a Wait) stops the phase.
func (f *Framework) RunPermitPlugins(ctx context.Context, state *framework.CycleState, pod *core.Pod, nodeName string) (*framework.Status, time.Duration) {
	for _, pl := range f.permitPlugins {
		status, timeout := pl.Permit(ctx, state, pod, nodeName)
		if status.Code() == framework.Wait {
			return status.WithPluginName(pl.Name()), timeout
		}
		if !status.IsSuccess() {
			return framework.AsStatus(fmt.Errorf("running Permit plugin %q: %w", pl.Name(), status.AsError())).WithPluginName(pl.Name()), 0
		}
	}
	return nil, 0
}

// RunPreBindPlugins runs PreBind plugins in order.
func (f *Framework) RunPreBindPlugins(ctx context.Context, state *framework.CycleState, pod *core.Pod, nodeName string) *framework.Status {
	for _, pl := range f.preBindPlugins {
		status := pl.PreBind(ctx, state, pod, nodeName)
		if !status.IsSuccess() {
			return framework.AsStatus(fmt.Errorf("running PreBind plugin %q: %w", pl.Name(), status.AsError())).WithPluginName(pl.Name())
		}
	}
	return nil
}

// RunBindPlugins runs Bind plugins until one does not return Skip. If every
// plugin returns Skip (including the empty list), the cycle fails per spec.md
// §4.1 "If all return Skip, the cycle fails."
func (f *Framework) RunBindPlugins(ctx context.Context, state *framework.CycleState, pod *core.Pod, nodeName string) *framework.Status {
	if len(f.bindPlugins) == 0 {
		return framework.NewStatus(framework.Skip)
	}
	var last *framework.Status
	for _, pl := range f.bindPlugins {
		status := pl.Bind(ctx, state, pod, nodeName)
		if status != nil && status.Code() == framework.Skip {
			last = status
			continue
		}
		if !status.IsSuccess() {
			return framework.AsStatus(fmt.Errorf("running Bind plugin %q: %w", pl.Name(), status.AsError())).WithPluginName(pl.Name())
		}
		return nil
	}
	return last
}

// RunPostBindPlugins runs PostBind plugins best-effort; a panic-free plugin
// returning nothing is expected, but we still guard with a recover so one
// misbehaving notification plugin cannot crash the cycle after a successful bind.
func (f *Framework) RunPostBindPlugins(ctx context.Context, state *framework.CycleState, pod *core.Pod, nodeName string) {
	for _, pl := range f.postBindPlugins {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("plugin", pl.Name()).Errorf("PostBind plugin panicked: %v", r)
				}
			}()
			pl.PostBind(ctx, state, pod, nodeName)
		}()
	}
}
