// Package netcore implements the cluster networking core from spec.md §4.3: lease
// allocation against a pool CIDR, the atomic subnet environment file, the kernel
// route manager, and the host-gateway backend. Grounded on
// original_source/project/rks/src/network/{init.rs,backend/route.rs} and
// rkl/src/network/subnet.rs.
package netcore

import (
	"context"
	"net"
	"time"

	"github.com/arken-sh/arken/pkg/errkind"
	"github.com/arken-sh/arken/pkg/registry"
	"github.com/sirupsen/logrus"
)

// PoolConfig fixes the cluster-wide allocation parameters spec.md §4.3 names:
// the IPv4/IPv6 pools and the per-node prefix length carved from them.
type PoolConfig struct {
	IPv4Pool   *net.IPNet
	IPv6Pool   *net.IPNet
	NodePrefix int // IPv4 prefix length assigned to each node, e.g. 24
	NodePrefix6 int
}

// LeaseManager allocates non-overlapping per-node subnets from a cluster pool,
// backed by a registry.Registry for durable, TTL'd storage.
type LeaseManager struct {
	reg  *registry.Registry
	pool PoolConfig
	ttl  time.Duration
}

func NewLeaseManager(reg *registry.Registry, pool PoolConfig, ttl time.Duration) *LeaseManager {
	return &LeaseManager{reg: reg, pool: pool, ttl: ttl}
}

// Allocate picks the lowest-index free sub-prefix of the configured pool(s),
// acquires it in the registry, and returns the resulting lease. Per spec.md
// §4.3: "the manager picks the lowest-index free sub-prefix, writes the lease
// with a TTL, and returns it." Candidate sub-prefixes are tried in ascending
// index order; an errkind.Conflict error (another node already holds that
// candidate) advances to the next index rather than failing the whole call.
func (lm *LeaseManager) Allocate(ctx context.Context, attrs registry.LeaseAttrs) (*registry.Lease, error) {
	v4Candidates, err := subPrefixes(lm.pool.IPv4Pool, lm.pool.NodePrefix)
	if err != nil {
		return nil, err
	}

	var v6Candidates []*net.IPNet
	if lm.pool.IPv6Pool != nil {
		v6Candidates, err = subPrefixes(lm.pool.IPv6Pool, lm.pool.NodePrefix6)
		if err != nil {
			return nil, err
		}
	}

	for i, v4 := range v4Candidates {
		key := registry.SubnetKey{IPv4: v4}
		if len(v6Candidates) > i {
			key.IPv6 = v6Candidates[i]
			key.HasIPv6 = true
		}

		lease, err := lm.reg.Acquire(ctx, key, attrs)
		if err == nil {
			return lease, nil
		}
		if errkind.Is(err, errkind.Conflict) {
			logrus.WithField("candidate", registry.MakeSubnetKey(key)).Debug("sub-prefix already leased, trying next index")
			continue
		}
		return nil, err
	}
	return nil, errkind.Newf(errkind.ResourceExhausted, "no free sub-prefix remains in pool %s", lm.pool.IPv4Pool)
}

// subPrefixes enumerates every sub-prefix of length prefixLen within pool, in
// ascending index order, giving the "lowest-index free sub-prefix" allocator its
// candidate list.
func subPrefixes(pool *net.IPNet, prefixLen int) ([]*net.IPNet, error) {
	if pool == nil {
		return nil, nil
	}
	poolOnes, bitsTotal := pool.Mask.Size()
	if prefixLen < poolOnes || prefixLen > bitsTotal {
		return nil, errkind.Newf(errkind.InvalidInput, "node prefix /%d is not within pool %s", prefixLen, pool)
	}
	count := 1 << uint(prefixLen-poolOnes)
	step := 1 << uint(bitsTotal-prefixLen)

	base := new(big4).setBytes(pool.IP.To4())
	if base == nil {
		base = new(big4).setBytes(pool.IP.To16())
	}

	out := make([]*net.IPNet, 0, count)
	for i := 0; i < count; i++ {
		ip := base.addAndBytes(i * step)
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(prefixLen, bitsTotal)})
	}
	return out, nil
}

// big4 is a minimal fixed-width big-endian integer helper for IPv4/IPv6 address
// arithmetic, avoiding a math/big dependency for what is just an offset add over
// at most 16 bytes.
type big4 struct {
	bytes []byte
}

func (b *big4) setBytes(ip net.IP) *big4 {
	if ip == nil {
		return nil
	}
	b.bytes = append([]byte(nil), ip...)
	return b
}

func (b *big4) addAndBytes(offset int) net.IP {
	out := append([]byte(nil), b.bytes...)
	carry := uint64(offset)
	for i := len(out) - 1; i >= 0 && carry > 0; i-- {
		sum := uint64(out[i]) + carry
		out[i] = byte(sum)
		carry = sum >> 8
	}
	return net.IP(out)
}
