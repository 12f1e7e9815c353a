package netcore

import (
	"context"
	"time"

	"github.com/arken-sh/arken/pkg/registry"
)

// Network is what a Backend's RegisterNetwork call returns: the node's own
// lease, the MTU the backend negotiated, and a Run loop that drives the
// backend's event handling until ctx is canceled, per spec.md §4.3's Backend
// interface.
type Network interface {
	Lease() *registry.Lease
	MTU() int
	Run(ctx context.Context) error
}

// Backend is the pluggable transport a network core runs on top of. Only
// host-gateway is implemented; other backend types are an explicit Non-goal.
type Backend interface {
	RegisterNetwork(ctx context.Context, cfg PoolConfig) (Network, error)
}

// HostGatewayBackend implements Backend by allocating a lease via LeaseManager;
// it installs no kernel routes itself (agent/flannel runs route.Manager for
// that). It is the simplest backend named in spec.md §4.3, grounded on
// original_source/project/rks/src/network/backend/hostgw (named in init.rs as
// HostgwBackend, used as the default backend).
type HostGatewayBackend struct {
	lm            *LeaseManager
	reg           *registry.Registry
	attrs         registry.LeaseAttrs
	reconcileTick time.Duration
}

func NewHostGatewayBackend(lm *LeaseManager, reg *registry.Registry, attrs registry.LeaseAttrs, reconcileTick time.Duration) *HostGatewayBackend {
	return &HostGatewayBackend{lm: lm, reg: reg, attrs: attrs, reconcileTick: reconcileTick}
}

func (b *HostGatewayBackend) RegisterNetwork(ctx context.Context, cfg PoolConfig) (Network, error) {
	lease, err := b.lm.Allocate(ctx, b.attrs)
	if err != nil {
		return nil, err
	}
	return &hostGatewayNetwork{backend: b, lease: lease, mtu: 1500}, nil
}

type hostGatewayNetwork struct {
	backend *HostGatewayBackend
	lease   *registry.Lease
	mtu     int
}

func (n *hostGatewayNetwork) Lease() *registry.Lease { return n.lease }
func (n *hostGatewayNetwork) MTU() int               { return n.mtu }

// Run wakes once a minute until ctx is canceled. It does not renew the lease
// and does not list the registry; a lease whose TTL runs out is not refreshed
// by this loop.
func (n *hostGatewayNetwork) Run(ctx context.Context) error {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n.backend.reg.ShouldRenew(n.lease.Expiration) {
				// Renewal requires the etcd lease ID that Acquire granted;
				// registry.Lease does not carry it, so this loop cannot call
				// Registry.Renew and the lease is left as it is.
				continue
			}
		}
	}
}
