// Package core holds the cluster data model shared by the scheduler, the image
// builder, and the network core: Pod, Node, NodeInfo snapshots, and the scheduling
// queue bookkeeping fields carried on a pod. Resource quantities, taints, and
// tolerations reuse the upstream Kubernetes API types rather than reinventing them,
// matching how the teacher and the rest of the pack treat k8s.io/api/core/v1 and
// k8s.io/apimachinery as the lingua franca for this kind of object.
package core

import (
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PodPhase is the coarse lifecycle phase of a Pod's mutable status envelope.
type PodPhase string

const (
	PodPending   PodPhase = "Pending"
	PodScheduled PodPhase = "Scheduled"
	PodBound     PodPhase = "Bound"
	PodFailed    PodPhase = "Failed"
)

// PodPort is a single container port request, independent of any particular
// container runtime's wire format.
type PodPort struct {
	Name          string
	ContainerPort int32
	Protocol      corev1.Protocol
}

// PodSpec is the immutable part of a Pod. Identity is Name; once created it is
// never mutated in place — edits produce a new generation via the control plane.
type PodSpec struct {
	Name          string
	Namespace     string
	Image         string
	Args          []string
	Requests      corev1.ResourceList
	Limits        corev1.ResourceList
	Ports         []PodPort
	NodeSelector  map[string]string
	Tolerations   []corev1.Toleration
	Priority      int32
	SchedulingGates []string
	CreationTime  metav1.Time
}

// PodStatus is the mutable envelope the control plane updates as a pod moves
// through scheduling and binding.
type PodStatus struct {
	Phase         PodPhase
	NodeName      string
	Conditions    []PodCondition
	LastTransition metav1.Time
}

type PodCondition struct {
	Type    string
	Status  bool
	Reason  string
	Message string
}

// Pod is the full object: immutable spec plus mutable status, plus the scheduling
// bookkeeping the queue needs across cycles. Attempts/NextTryTime/LastFailurePlugins
// are not part of the API-visible status; they are scheduler-internal bookkeeping
// that travels with the pod object for convenience.
type Pod struct {
	Spec   PodSpec
	Status PodStatus

	Attempts           int
	NextTryTime        time.Time
	LastFailurePlugins map[string]struct{}
}

// NamespacedName returns the pod's (namespace, name) identity tuple as a single
// string key, used for map lookups in the queue and unschedulable pool.
func (p *Pod) NamespacedName() string {
	if p.Spec.Namespace == "" {
		return p.Spec.Name
	}
	return p.Spec.Namespace + "/" + p.Spec.Name
}

// NodeCondition mirrors a single agent-reported condition (Ready, MemoryPressure,
// DiskPressure, ...).
type NodeCondition struct {
	Type               string
	Status             bool
	LastHeartbeatTime  metav1.Time
	LastTransitionTime metav1.Time
	Reason             string
	Message            string
}

// Node is a registered agent: its identity, capacity, and the labels/taints the
// scheduler's Filter plugins consult.
type Node struct {
	Name        string
	Address     string
	Capacity    corev1.ResourceList
	Allocatable corev1.ResourceList
	Labels      map[string]string
	Taints      []corev1.Taint
	Conditions  []NodeCondition
}

// NodeInfo is a point-in-time snapshot of a Node plus the pods currently placed on
// it. Snapshots are immutable for the duration of one scheduling cycle: a writer
// producing a new snapshot never mutates one already handed to a running cycle.
type NodeInfo struct {
	Node *Node
	Pods []*Pod

	// generation increases each time the event loop rebuilds this NodeInfo from
	// fresh Node/Pod state. Schedulers compare generations to detect they are
	// holding a stale snapshot across cycle boundaries, matching the "snapshots
	// are reference-counted and released when the cycle completes" rule in the
	// concurrency model.
	generation uint64
}

// NewNodeInfo builds a snapshot for node at the given generation with pods already
// known to be placed on it.
func NewNodeInfo(node *Node, pods []*Pod, generation uint64) *NodeInfo {
	return &NodeInfo{Node: node, Pods: pods, generation: generation}
}

// Generation reports the snapshot's generation counter.
func (ni *NodeInfo) Generation() uint64 { return ni.generation }

// RequestedResources sums the resource requests of every pod already placed on the
// node snapshot, used by the node-resources-fit Filter plugin.
func (ni *NodeInfo) RequestedResources() corev1.ResourceList {
	total := corev1.ResourceList{}
	for _, pod := range ni.Pods {
		for name, qty := range pod.Spec.Requests {
			sum := total[name].DeepCopy()
			sum.Add(qty)
			total[name] = sum
		}
	}
	return total
}
