// The server binary runs the control plane: a scheduler cycle over a live
// node set, fronted by a QUIC transport.Server. Agents connect once,
// register, and then receive CreatePod dispatches over that same connection
// whenever the scheduler binds a pod to their node.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	core "github.com/arken-sh/arken/pkg/apis/core"
	"github.com/arken-sh/arken/pkg/bootstrap"
	"github.com/arken-sh/arken/pkg/daemons/config"
	"github.com/arken-sh/arken/pkg/errkind"
	"github.com/arken-sh/arken/pkg/registry"
	"github.com/arken-sh/arken/pkg/scheduler"
	"github.com/arken-sh/arken/pkg/scheduler/events"
	"github.com/arken-sh/arken/pkg/scheduler/framework"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/balancedallocation"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/defaultbinder"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/defaultpreemption"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/nodeaffinity"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/nodename"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/noderesourcesfit"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/nodeunschedulable"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/priority"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/schedulinggates"
	"github.com/arken-sh/arken/pkg/scheduler/framework/plugins/tainttoleration"
	"github.com/arken-sh/arken/pkg/scheduler/framework/runtime"
	"github.com/arken-sh/arken/pkg/transport"
)

// podRequest is the wire shape a CreatePod envelope's Pod field decodes
// into, the minimal set of fields a user request or the server's own
// dispatch needs.
type podRequest struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Image     string            `json:"image"`
	Selector  map[string]string `json:"node_selector,omitempty"`
}

// cluster tracks registered nodes and the connections used to dispatch pods
// to them. It implements scheduler.ClusterView.
type cluster struct {
	mu    sync.Mutex
	nodes map[string]*core.NodeInfo
	conns map[string]quic.Connection
}

func newCluster() *cluster {
	return &cluster{nodes: make(map[string]*core.NodeInfo), conns: make(map[string]quic.Connection)}
}

func (c *cluster) Nodes() []*core.NodeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*core.NodeInfo, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	return out
}

func (c *cluster) register(nodeID string, conn quic.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[nodeID] = conn
	if _, ok := c.nodes[nodeID]; !ok {
		c.nodes[nodeID] = core.NewNodeInfo(&core.Node{Name: nodeID}, nil, 0)
	}
}

func (c *cluster) unregister(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, nodeID)
	delete(c.nodes, nodeID)
}

func (c *cluster) connFor(nodeID string) (quic.Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[nodeID]
	return conn, ok
}

// handler implements transport.Handler: a connection's first stream
// identifies it as either an agent (RegisterNode, held open for later
// dispatch) or a one-shot user request (CreatePod/GetNodeCount).
type handler struct {
	cluster *cluster
	sched   *scheduler.Scheduler
}

func (h *handler) HandleConnection(ctx context.Context, conn quic.Connection) error {
	stream, env, err := transport.AcceptStreamEnvelope(ctx, conn)
	if err != nil {
		return err
	}

	switch env.Tag {
	case transport.TagRegisterNode:
		return h.handleAgent(ctx, conn, stream, env)
	case transport.TagCreatePod, transport.TagDeletePod, transport.TagGetNodeCount, transport.TagUserRequest:
		return h.handleUserRequest(stream, env)
	default:
		return errkind.Newf(errkind.InvalidInput, "unexpected first envelope tag %d", env.Tag)
	}
}

func (h *handler) handleAgent(ctx context.Context, conn quic.Connection, stream quic.Stream, env transport.Envelope) error {
	decoded, err := transport.Decode(env)
	if err != nil {
		return err
	}
	reg := decoded.(*transport.RegisterNode)

	h.cluster.register(reg.NodeID, conn)
	defer h.cluster.unregister(reg.NodeID)

	ack, err := transport.Encode(transport.TagAck, transport.Ack{})
	if err != nil {
		return err
	}
	if err := transport.WriteEnvelope(stream, ack); err != nil {
		return err
	}
	logrus.WithField("node", reg.NodeID).Info("node registered")

	<-ctx.Done()
	return nil
}

func (h *handler) handleUserRequest(stream quic.Stream, env transport.Envelope) error {
	switch env.Tag {
	case transport.TagCreatePod:
		var msg transport.CreatePod
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return errors.Wrap(err, "decoding CreatePod")
		}
		var req podRequest
		if err := json.Unmarshal(msg.Pod, &req); err != nil {
			return errors.Wrap(err, "decoding pod request")
		}
		pod := &core.Pod{Spec: core.PodSpec{
			Name:         req.Name,
			Namespace:    req.Namespace,
			Image:        req.Image,
			NodeSelector: req.Selector,
		}}
		h.sched.Enqueue(context.Background(), pod)
		return writeReply(stream, transport.TagAck, transport.Ack{RequestID: msg.RequestID})

	case transport.TagGetNodeCount:
		var msg transport.GetNodeCount
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return errors.Wrap(err, "decoding GetNodeCount")
		}
		return writeReply(stream, transport.TagNodeCount, transport.NodeCount{
			RequestID: msg.RequestID,
			Count:     len(h.cluster.Nodes()),
		})

	default:
		return writeReply(stream, transport.TagAck, transport.Ack{})
	}
}

func writeReply(stream quic.Stream, tag transport.Tag, v interface{}) error {
	env, err := transport.Encode(tag, v)
	if err != nil {
		return err
	}
	return transport.WriteEnvelope(stream, env)
}

// dispatchPod is the scheduler's BindFunc: it opens a stream on the bound
// node's connection, hands it a CreatePod dispatch, and waits for the
// agent's Ack before the bind is considered complete.
func dispatchPod(c *cluster) defaultbinder.BindFunc {
	return func(ctx context.Context, pod *core.Pod, nodeName string) error {
		conn, ok := c.connFor(nodeName)
		if !ok {
			return errkind.Newf(errkind.Transient, "no live connection for node %s", nodeName)
		}

		body, err := json.Marshal(podRequest{Name: pod.Spec.Name, Namespace: pod.Spec.Namespace, Image: pod.Spec.Image})
		if err != nil {
			return err
		}
		env, err := transport.Encode(transport.TagCreatePod, transport.CreatePod{
			RequestID: transport.NewRequestID(),
			Pod:       body,
		})
		if err != nil {
			return err
		}

		stream, err := transport.OpenRequestStream(ctx, conn, env)
		if err != nil {
			return err
		}
		defer stream.Close()

		reply, err := transport.ReadEnvelope(stream)
		if err != nil {
			return errors.Wrapf(err, "waiting for dispatch ack from node %s", nodeName)
		}
		if reply.Tag != transport.TagAck {
			return errkind.Newf(errkind.StateCorruption, "node %s replied with unexpected tag %d to dispatch", nodeName, reply.Tag)
		}
		return nil
	}
}

// newFramework assembles the scheduler's plugin pipeline in the fixed
// registration order: PreEnqueue admission gate, priority-based queue
// ordering, resource-fit PreFilter/Filter followed by the remaining
// predicate filters, preemption as the sole PostFilter, balanced-resource
// scoring, and dispatchPod as the sole Bind plugin.
func newFramework(c *cluster) *runtime.Framework {
	gates := schedulinggates.New()
	prio := priority.New()
	fit := noderesourcesfit.New()
	preemption := defaultpreemption.New()
	balanced := balancedallocation.New()
	binder := defaultbinder.New(dispatchPod(c))

	return runtime.New(
		[]framework.PreEnqueuePlugin{gates},
		prio,
		[]framework.PreFilterPlugin{fit},
		[]framework.FilterPlugin{
			fit,
			nodeunschedulable.New(),
			nodename.New(),
			nodeaffinity.New(),
			tainttoleration.New(),
		},
		[]framework.PostFilterPlugin{preemption},
		nil,
		[]runtime.ScoredPlugin{{Plugin: balanced, Weight: 1}},
		nil,
		nil,
		nil,
		[]framework.BindPlugin{binder},
		nil,
	)
}

// Run constructs the control plane's dependencies from cfg and serves until
// ctx is canceled: an etcd-backed scheduler plus a QUIC transport.Server
// dispatching bound pods to agent connections.
func Run(ctx context.Context, cfg *config.Control) error {
	client, err := clientv3.New(clientv3.Config{Endpoints: cfg.EtcdEndpoints})
	if err != nil {
		return errors.Wrap(err, "connecting to etcd")
	}
	defer client.Close()

	if _, err := registry.New(client, cfg.LeaseTTL, cfg.RenewMargin); err != nil {
		return errors.Wrap(err, "building lease registry")
	}

	nodes := newCluster()
	broker := events.New()

	sched := scheduler.New(scheduler.Config{
		Framework: newFramework(nodes),
		Cluster:   nodes,
		Broker:    broker,
	})

	subscription := broker.Subscribe("scheduler")
	go sched.Run(ctx, subscription)

	if err := startBootstrapServer(ctx, cfg); err != nil {
		return err
	}

	srv := &transport.Server{
		Addr:    cfg.BindAddress,
		Cert:    cfg.Runtime.ServerCert,
		Handler: &handler{cluster: nodes, sched: sched},
	}
	return srv.ListenAndServe(ctx)
}

// startBootstrapServer runs the agent join-token HTTPS endpoint
// (/cacerts, /v1-arken/config) in the background until ctx is canceled.
func startBootstrapServer(ctx context.Context, cfg *config.Control) error {
	tlsConf, err := bootstrap.TLSConfigFor(cfg.Runtime.ServerCert)
	if err != nil {
		return errors.Wrap(err, "building bootstrap TLS config")
	}

	var clusterCIDR string
	if cfg.ClusterCIDR != nil {
		clusterCIDR = cfg.ClusterCIDR.String()
	}

	httpSrv := &http.Server{
		Addr: cfg.BootstrapAddress,
		Handler: &bootstrap.Handler{
			Cert:  cfg.Runtime.ServerCert,
			Token: cfg.Token,
			Config: bootstrap.ConfigBlob{
				ClusterCIDR:          clusterCIDR,
				AdvertisePort:        cfg.AdvertisePort,
				TransportAddress:     cfg.BindAddress,
				TransportFingerprint: transport.Fingerprint(cfg.Runtime.ServerCert.Certificate[0]),
				EtcdEndpoints:        cfg.EtcdEndpoints,
			},
		},
		TLSConfig: tlsConf,
	}

	go func() {
		<-ctx.Done()
		httpSrv.Close()
	}()

	go func() {
		if err := httpSrv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("bootstrap HTTPS server exited")
		}
	}()

	return nil
}
