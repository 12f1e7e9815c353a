package framework

import core "github.com/arken-sh/arken/pkg/apis/core"

// ActionType is a bitmask of the cluster mutations a plugin's requeue hint cares
// about, mirroring the Rust bitflags! ActionType in the distilled source
// (libscheduler/src/plugins/mod.rs).
type ActionType uint32

const (
	Add ActionType = 1 << iota
	Delete
	UpdateNodeLabel
	UpdateNodeTaint
	UpdatePodLabel
	UpdatePodToleration
	UpdateNodeAllocatable
)

func (a ActionType) Has(flag ActionType) bool { return a&flag != 0 }

// EventResource names the object kind a ClusterEvent concerns.
type EventResource int

const (
	ResourcePod EventResource = iota
	ResourceNode
)

// ClusterEvent pairs a resource kind with the kind of mutation that happened to it.
type ClusterEvent struct {
	Resource EventResource
	Action   ActionType
}

// EventInner carries the old/new object pair for an event. Exactly one of the Pod
// or Node branches is populated, matching the Rust EventInner enum.
type EventInner struct {
	OldPod  *core.Pod
	NewPod  *core.Pod
	OldNode *core.Node
	NewNode *core.Node
}

// QueueingHint is the verdict a plugin's hint function returns for one previously
// rejected pod reacting to one cluster event.
type QueueingHint int

const (
	// HintSkip means the pod should stay in the unschedulable pool; this event does
	// not change the plugin's earlier verdict.
	HintSkip QueueingHint = iota
	// HintQueue means the pod should be moved to the backoff/active queue for
	// another attempt.
	HintQueue
)

// QueueingHintFn evaluates whether event could make pod schedulable again, given
// that it was previously rejected by the plugin that registered this function. An
// error is treated as HintQueue by the caller, never as HintSkip, to prevent a
// buggy hint function from starving a pod forever.
type QueueingHintFn func(pod *core.Pod, event EventInner) (QueueingHint, error)

// ClusterEventWithHint pairs an event of interest with the function that decides
// whether it revives a rejected pod. PluginName identifies the plugin that
// registered this hint, so the queue only consults it for pods that plugin
// actually rejected.
type ClusterEventWithHint struct {
	Event      ClusterEvent
	HintFn     QueueingHintFn
	PluginName string
}

// EnqueueExtension is implemented by plugins that want to be woken on specific
// cluster events rather than retried purely on a backoff timer.
type EnqueueExtension interface {
	EventsToRegister() []ClusterEventWithHint
}
