// Package flannel wires an agent's local network setup into pkg/netcore
// instead of shelling out to a real flannel daemon: it registers the node's
// lease with the host-gateway backend, writes the CNI conflist and subnet
// env file the node's CNI plugin chain reads, and starts the kernel route
// reconciler loop.
package flannel

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/arken-sh/arken/pkg/netcore"
	"github.com/arken-sh/arken/pkg/netcore/cni"
	"github.com/arken-sh/arken/pkg/netcore/route"
	"github.com/arken-sh/arken/pkg/netutil"
	"github.com/arken-sh/arken/pkg/registry"
)

// DefaultRouteInterface picks the interface carrying the kernel's default
// route, used when the node config does not name one explicitly, per
// SPEC_FULL.md C.3's external-interface autodetection.
var DefaultRouteInterface = netutil.DefaultRouteInterface

const (
	baseCNIConf = `{"cniVersion":"0.4.0","name":"cbr0","type":"bridge","bridge":"cbr0","isDefaultGateway":true}`

	cniConfDir = "/etc/cni/net.d"
	envFile    = "/run/arken/subnet.env"
)

// Config is what Run needs to bring the node's network up: the pool it
// allocates from, the interface the route manager installs routes on, and
// the public address it advertises for its lease.
type Config struct {
	Pool          netcore.PoolConfig
	PublicIP      net.IP
	LinkIndex     int
	ReconcileTick time.Duration // route.Manager.Run's tick interval
}

// Run allocates the node's lease through the host-gateway backend, writes
// the CNI conflist and subnet env file, and runs the route reconciler until
// ctx is canceled.
func Run(ctx context.Context, reg *registry.Registry, lm *netcore.LeaseManager, cfg Config) error {
	backend := netcore.NewHostGatewayBackend(lm, reg, registry.LeaseAttrs{
		PublicIP:    cfg.PublicIP.String(),
		BackendType: "host-gw",
	}, 0)

	network, err := backend.RegisterNetwork(ctx, cfg.Pool)
	if err != nil {
		return errors.Wrap(err, "registering node network")
	}
	lease := network.Lease()

	if err := writeCNIConflist(); err != nil {
		return err
	}
	if err := writeSubnetEnv(cfg.Pool, lease, network.MTU()); err != nil {
		return err
	}

	mgr := route.NewManager(cfg.LinkIndex, "host-gw")
	leases, err := reg.List(ctx)
	if err != nil {
		return errors.Wrap(err, "listing leases to seed route manager")
	}
	mgr.SyncRoutes(leases)

	go func() {
		if err := network.Run(ctx); err != nil {
			logrus.WithError(err).Error("host-gateway network loop exited")
		}
	}()

	tick := cfg.ReconcileTick
	if tick <= 0 {
		tick = 10 * time.Second
	}
	mgr.Run(ctx, tick)
	return nil
}

func writeCNIConflist() error {
	conflist, err := cni.PromoteToConflist([]byte(baseCNIConf))
	if err != nil {
		return errors.Wrap(err, "promoting base CNI config to conflist")
	}
	b, err := conflist.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshaling CNI conflist")
	}
	if err := os.MkdirAll(cniConfDir, 0755); err != nil {
		return errors.Wrap(err, "creating CNI conf dir")
	}
	return os.WriteFile(filepath.Join(cniConfDir, "10-arken.conflist"), b, 0644)
}

func writeSubnetEnv(pool netcore.PoolConfig, lease *registry.Lease, mtu int) error {
	env := netcore.EnvFile{
		Subnet: lease.Subnet.IPv4.String(),
		MTU:    mtu,
		IPMasq: true,
	}
	if pool.IPv4Pool != nil {
		env.Network = pool.IPv4Pool.String()
	}
	if lease.Subnet.HasIPv6 {
		env.IPv6Subnet = lease.Subnet.IPv6.String()
		if pool.IPv6Pool != nil {
			env.IPv6Network = pool.IPv6Pool.String()
		}
	}
	return netcore.WriteEnvFile(envFile, env)
}
