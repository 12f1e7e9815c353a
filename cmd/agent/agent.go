// The agent binary runs a node's half of the system: it resolves bootstrap
// config from the control plane, starts the chrooted pod runtime and the
// local networking setup, then dials the control plane over QUIC,
// registers, and serves CreatePod/DeletePod dispatches for the lifetime of
// the connection.
package main

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	agentconfig "github.com/arken-sh/arken/agent/config"
	"github.com/arken-sh/arken/agent/containerd"
	"github.com/arken-sh/arken/agent/flannel"
	"github.com/arken-sh/arken/pkg/daemons/config"
	"github.com/arken-sh/arken/pkg/errkind"
	"github.com/arken-sh/arken/pkg/netcore"
	"github.com/arken-sh/arken/pkg/registry"
	"github.com/arken-sh/arken/pkg/transport"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// localImageFetcher resolves an image reference against a flat on-disk
// store of already-materialized OCI layouts, one directory per reference,
// populated out of band (this module has no command that fills it). There is no
// registry-pull client wired into this module; an agent only ever runs
// images it (or its build pipeline) already has locally.
type localImageFetcher struct {
	StoreDir string
}

func (f *localImageFetcher) Fetch(ref string) (string, error) {
	path := filepath.Join(f.StoreDir, sanitizeRef(ref))
	if _, err := os.Stat(path); err != nil {
		return "", errkind.Wrapf(errkind.InvalidInput, err, "image %s not present in local store", ref)
	}
	return path, nil
}

func sanitizeRef(ref string) string {
	return strings.NewReplacer("/", "_", ":", "@").Replace(ref)
}

// Run blocks until ctx is canceled: it resolves bootstrap config, starts
// the pod runtime and local networking, then maintains the control-plane
// connection, restarting it on failure.
func Run(ctx context.Context, env *agentconfig.EnvInfo) error {
	node := agentconfig.Get(env)

	runtime, err := containerd.New(
		filepath.Join(node.DataDir, "containerd"),
		&localImageFetcher{StoreDir: filepath.Join(node.DataDir, "images")},
		128,
	)
	if err != nil {
		return errors.Wrap(err, "starting pod runtime")
	}

	if err := runNetworking(ctx, node); err != nil {
		return errors.Wrap(err, "starting node networking")
	}

	for {
		if err := serveOnce(ctx, node, runtime); err != nil {
			logrus.WithError(err).Error("control-plane connection ended; reconnecting")
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// leaseTTL is the etcd lease lifetime a node's subnet allocation is
// renewed against; it mirrors the teacher's own flannel backend default.
const leaseTTL = 24 * time.Hour

func runNetworking(ctx context.Context, node *config.Node) error {
	client, err := clientv3.New(clientv3.Config{Endpoints: node.EtcdEndpoints})
	if err != nil {
		return errors.Wrap(err, "connecting to etcd for lease registration")
	}

	reg, err := registry.New(client, leaseTTL, registry.MinRenewMargin)
	if err != nil {
		client.Close()
		return err
	}

	ip := net.ParseIP(node.NodeIP)
	iface, err := flannel.DefaultRouteInterface()
	if err != nil {
		logrus.WithError(err).Warn("could not determine default route interface")
	}
	linkIndex := 0
	if iface != "" {
		if link, err := net.InterfaceByName(iface); err == nil {
			linkIndex = link.Index
		}
	}

	pool := netcore.PoolConfig{IPv4Pool: node.AgentConfig.ClusterCIDR, NodePrefix: 24}
	lm := netcore.NewLeaseManager(reg, pool, leaseTTL)

	go func() {
		defer client.Close()
		err := flannel.Run(ctx, reg, lm, flannel.Config{
			Pool:      pool,
			PublicIP:  ip,
			LinkIndex: linkIndex,
		})
		if err != nil {
			logrus.WithError(err).Error("node networking loop exited")
		}
	}()
	return nil
}

// serveOnce dials the control plane, registers this node, and then serves
// dispatched pod streams until the connection drops or ctx is canceled.
func serveOnce(ctx context.Context, node *config.Node, rt *containerd.Runtime) error {
	client := &transport.Client{Addr: node.TransportAddress, PinnedFingerprint: node.TransportFingerprint}
	conn, err := client.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.CloseWithError(0, "")

	env, err := transport.Encode(transport.TagRegisterNode, transport.RegisterNode{NodeID: node.NodeName})
	if err != nil {
		return err
	}
	stream, err := transport.OpenRequestStream(ctx, conn, env)
	if err != nil {
		return err
	}
	ack, err := transport.ReadEnvelope(stream)
	if err != nil {
		return errors.Wrap(err, "waiting for registration ack")
	}
	if ack.Tag != transport.TagAck {
		return errkind.Newf(errkind.StateCorruption, "unexpected reply tag %d to registration", ack.Tag)
	}
	logrus.WithField("node", node.NodeName).Info("registered with control plane")

	for {
		dispatch, err := conn.AcceptStream(ctx)
		if err != nil {
			return errors.Wrap(err, "accepting dispatch stream")
		}
		go handleDispatch(dispatch, rt)
	}
}

func handleDispatch(stream quic.Stream, rt *containerd.Runtime) {
	defer stream.Close()

	env, err := transport.ReadEnvelope(stream)
	if err != nil {
		logrus.WithError(err).Warn("reading dispatch envelope")
		return
	}

	switch env.Tag {
	case transport.TagCreatePod:
		var msg transport.CreatePod
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			logrus.WithError(err).Warn("decoding dispatched CreatePod")
			return
		}
		var req struct {
			Name  string `json:"name"`
			Image string `json:"image"`
		}
		if err := json.Unmarshal(msg.Pod, &req); err != nil {
			logrus.WithError(err).Warn("decoding dispatched pod spec")
			return
		}
		if err := rt.StartPod(context.Background(), containerd.PodSpec{ID: req.Name, Image: req.Image}); err != nil {
			logrus.WithError(err).WithField("pod", req.Name).Error("starting dispatched pod")
			return
		}
		reply, _ := transport.Encode(transport.TagAck, transport.Ack{RequestID: msg.RequestID})
		transport.WriteEnvelope(stream, reply)

	case transport.TagDeletePod:
		var msg transport.DeletePod
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			logrus.WithError(err).Warn("decoding dispatched DeletePod")
			return
		}
		if err := rt.StopPod(msg.PodName); err != nil {
			logrus.WithError(err).WithField("pod", msg.PodName).Warn("stopping dispatched pod")
		}
		reply, _ := transport.Encode(transport.TagAck, transport.Ack{RequestID: msg.RequestID})
		transport.WriteEnvelope(stream, reply)

	default:
		logrus.WithField("tag", env.Tag).Warn("unexpected dispatch tag")
	}
}
