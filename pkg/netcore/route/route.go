// Package route implements the kernel route manager from spec.md §4.3: two
// believed-state lists (IPv4, IPv6), add/delete/sync/cleanup operations, a
// reconciler tick loop, and blackhole routes for unassigned cluster CIDRs.
// Grounded on original_source/project/rks/src/network/backend/route.rs, with
// netlink operations ported from that file's libcni::ip::route calls onto
// github.com/vishvananda/netlink.
package route

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/arken-sh/arken/pkg/errkind"
	"github.com/arken-sh/arken/pkg/registry"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Route is the manager's view of one route: the tuple spec.md §3 defines
// equality over (dst, gw, oif), ignoring metric and route kind.
type Route struct {
	Dst       *net.IPNet
	Gateway   net.IP
	OifIndex  int
	Blackhole bool
}

// Equal implements the dst+gw+oif equality rule from spec.md §3.
func (r Route) Equal(o Route) bool {
	return cidrEqual(r.Dst, o.Dst) && r.Gateway.Equal(o.Gateway) && r.OifIndex == o.OifIndex
}

func cidrEqual(a, b *net.IPNet) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Mask.String() == b.Mask.String()
}

// Manager maintains the IPv4/IPv6 believed-route lists and reconciles them
// against the kernel.
type Manager struct {
	mu          sync.Mutex
	linkIndex   int
	backendType string
	routes      []Route
	v6routes    []Route
}

func NewManager(linkIndex int, backendType string) *Manager {
	return &Manager{linkIndex: linkIndex, backendType: backendType}
}

// RouteForLease builds the canonical IPv4 route for lease: dst=lease.subnet,
// gw=lease.public_ip, oif=external_iface, per spec.md §4.3.
func (m *Manager) RouteForLease(lease *registry.Lease) (Route, bool) {
	if lease.Subnet.IPv4 == nil {
		return Route{}, false
	}
	gw := net.ParseIP(lease.Attrs.PublicIP)
	if gw == nil {
		return Route{}, false
	}
	return Route{Dst: lease.Subnet.IPv4, Gateway: gw, OifIndex: m.linkIndex}, true
}

// RouteForLeaseV6 builds the IPv6 counterpart, if the lease carries an IPv6
// subnet and the node advertised a public IPv6 address.
func (m *Manager) RouteForLeaseV6(lease *registry.Lease) (Route, bool) {
	if !lease.Subnet.HasIPv6 || lease.Subnet.IPv6 == nil || lease.Attrs.PublicIPv6 == "" {
		return Route{}, false
	}
	gw := net.ParseIP(lease.Attrs.PublicIPv6)
	if gw == nil {
		return Route{}, false
	}
	return Route{Dst: lease.Subnet.IPv6, Gateway: gw, OifIndex: m.linkIndex}, true
}

// AddRoute ensures r is in the believed list and in the kernel, per spec.md
// §4.3's add_route semantics: lists kernel routes matching r.Dst; if an
// existing kernel route differs from r, deletes it and installs r; if it
// already equals r, no-op.
func (m *Manager) AddRoute(r Route) error {
	m.mu.Lock()
	m.addToList(r)
	m.mu.Unlock()

	existing, err := kernelRoutesForDst(r.Dst)
	if err != nil {
		return errkind.Wrap(errkind.Transient, err, "listing kernel routes")
	}

	if len(existing) > 0 {
		if routeEqualsKernel(r, existing[0]) {
			return nil
		}
		logrus.WithField("dst", r.Dst).Warn("replacing existing kernel route that no longer matches the believed route")
		if err := netlink.RouteDel(existing[0]); err != nil {
			return errkind.Wrap(errkind.Transient, err, "deleting superseded kernel route")
		}
	}

	return installRoute(r)
}

// DeleteRoute removes r from the believed list and from the kernel.
func (m *Manager) DeleteRoute(r Route) error {
	m.mu.Lock()
	m.removeFromList(r)
	m.mu.Unlock()

	nlRoute := toNetlinkRoute(r)
	if err := netlink.RouteDel(nlRoute); err != nil {
		return errkind.Wrap(errkind.Transient, err, "deleting kernel route")
	}
	return nil
}

// SyncRoutes is the union of AddRoute over every lease's canonical route(s).
// Per-lease failures are logged and do not abort the sync, matching
// rks's sync_routes.
func (m *Manager) SyncRoutes(leases []*registry.Lease) {
	for _, lease := range leases {
		if r, ok := m.RouteForLease(lease); ok {
			if err := m.AddRoute(r); err != nil {
				logrus.WithError(err).WithField("subnet", lease.SubnetKey).Warn("failed to add IPv4 route for lease")
			}
		}
		if r, ok := m.RouteForLeaseV6(lease); ok {
			if err := m.AddRoute(r); err != nil {
				logrus.WithError(err).WithField("subnet", lease.SubnetKey).Warn("failed to add IPv6 route for lease")
			}
		}
	}
}

// CleanupRoutes is the union of DeleteRoute over every lease's canonical route(s).
func (m *Manager) CleanupRoutes(leases []*registry.Lease) {
	for _, lease := range leases {
		if r, ok := m.RouteForLease(lease); ok {
			if err := m.DeleteRoute(r); err != nil {
				logrus.WithError(err).WithField("subnet", lease.SubnetKey).Warn("failed to remove IPv4 route for lease")
			}
		}
		if r, ok := m.RouteForLeaseV6(lease); ok {
			if err := m.DeleteRoute(r); err != nil {
				logrus.WithError(err).WithField("subnet", lease.SubnetKey).Warn("failed to remove IPv6 route for lease")
			}
		}
	}
}

// Reconcile diffs the believed lists against the kernel and re-adds anything
// missing. Failures are logged and retried on the next tick; no backoff growth,
// per spec.md §4.3's reconciler-loop rule.
func (m *Manager) Reconcile() {
	m.mu.Lock()
	believed := append(append([]Route(nil), m.routes...), m.v6routes...)
	m.mu.Unlock()

	for _, r := range believed {
		existing, err := kernelRoutesForDst(r.Dst)
		if err != nil {
			logrus.WithError(err).Error("error fetching route list; will automatically retry")
			continue
		}
		found := false
		for _, k := range existing {
			if routeEqualsKernel(r, k) {
				found = true
				break
			}
		}
		if !found {
			if err := installRoute(r); err != nil {
				logrus.WithError(err).WithField("dst", r.Dst).Error("error recovering missing route")
			} else {
				logrus.WithField("dst", r.Dst).Info("route recovered")
			}
		}
	}
}

// Run ticks Reconcile every interval until ctx is canceled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reconcile()
		}
	}
}

// AddBlackhole installs a BlackHole-kind route for dst if one is not already
// present, preventing traffic escape for unassigned portions of a cluster-wide
// pool, per spec.md §4.3.
func AddBlackhole(dst *net.IPNet) error {
	existing, err := kernelRoutesForDst(dst)
	if err != nil {
		return errkind.Wrap(errkind.Transient, err, "listing routes before installing blackhole")
	}
	for _, r := range existing {
		if r.Type == unix.RTN_BLACKHOLE {
			return nil
		}
	}
	nlRoute := &netlink.Route{Dst: dst, Type: unix.RTN_BLACKHOLE}
	if err := netlink.RouteAdd(nlRoute); err != nil {
		return errkind.Wrap(errkind.Transient, err, "adding blackhole route")
	}
	logrus.WithField("dst", dst).Info("blackhole route added")
	return nil
}

func (m *Manager) addToList(r Route) {
	list := &m.routes
	if r.Dst != nil && r.Dst.IP.To4() == nil {
		list = &m.v6routes
	}
	for _, existing := range *list {
		if existing.Equal(r) {
			return
		}
	}
	*list = append(*list, r)
}

func (m *Manager) removeFromList(r Route) {
	list := &m.routes
	if r.Dst != nil && r.Dst.IP.To4() == nil {
		list = &m.v6routes
	}
	out := make([]Route, 0, len(*list))
	removed := false
	for _, existing := range *list {
		if !removed && existing.Equal(r) {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	*list = out
}

func toNetlinkRoute(r Route) *netlink.Route {
	return &netlink.Route{Dst: r.Dst, Gw: r.Gateway, LinkIndex: r.OifIndex}
}

func installRoute(r Route) error {
	if err := netlink.RouteAdd(toNetlinkRoute(r)); err != nil {
		return errkind.Wrap(errkind.Transient, err, "adding kernel route")
	}
	return nil
}

func kernelRoutesForDst(dst *net.IPNet) ([]netlink.Route, error) {
	family := netlink.FAMILY_V4
	if dst != nil && dst.IP.To4() == nil {
		family = netlink.FAMILY_V6
	}
	filter := &netlink.Route{Dst: dst}
	return netlink.RouteListFiltered(family, filter, netlink.RT_FILTER_DST)
}

func routeEqualsKernel(r Route, k netlink.Route) bool {
	return cidrEqual(r.Dst, k.Dst) && r.Gateway.Equal(k.Gw) && r.OifIndex == k.LinkIndex
}
