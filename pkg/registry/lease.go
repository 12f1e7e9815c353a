package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arken-sh/arken/pkg/errkind"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// MinRenewMargin and MaxRenewMargin bound the renew_margin configuration knob
// from spec.md §6: a node must renew at least 1 minute and at most 1439 minutes
// (just under a full lease period) before expiry.
const (
	MinRenewMargin = 1 * time.Minute
	MaxRenewMargin = 1439 * time.Minute
)

// keyPrefix namespaces every lease key this package writes, so the registry can
// share an etcd cluster with other consumers.
const keyPrefix = "/arken/network/leases/"

// LeaseAttrs is the per-node metadata attached to a lease: its public address
// and the backend type that requested it.
type LeaseAttrs struct {
	PublicIP     string `json:"public_ip"`
	PublicIPv6   string `json:"public_ipv6,omitempty"`
	BackendType  string `json:"backend_type"`
}

// Lease is one (subnet, node) assignment record stored in etcd.
type Lease struct {
	Subnet     SubnetKey  `json:"-"`
	SubnetKey  string     `json:"subnet_key"`
	Attrs      LeaseAttrs `json:"attrs"`
	Expiration time.Time  `json:"expiration"`
}

// Registry is the KV-backed lease store. ValidateRenewMargin must be called at
// construction per spec.md §6 ("fail fast on a misconfigured agent").
type Registry struct {
	kv          clientv3.KV
	leaseClient clientv3.Lease
	renewMargin time.Duration
	ttl         time.Duration
}

// New builds a Registry. renewMargin must satisfy [MinRenewMargin, MaxRenewMargin].
func New(client *clientv3.Client, ttl, renewMargin time.Duration) (*Registry, error) {
	if err := ValidateRenewMargin(renewMargin); err != nil {
		return nil, err
	}
	return &Registry{
		kv:          client.KV,
		leaseClient: client.Lease,
		renewMargin: renewMargin,
		ttl:         ttl,
	}, nil
}

// ValidateRenewMargin rejects a renew margin outside [MinRenewMargin, MaxRenewMargin],
// the [1, 1439]-minute window spec.md §6 specifies (both 0 and 1440 minutes are
// invalid).
func ValidateRenewMargin(margin time.Duration) error {
	if margin < MinRenewMargin || margin > MaxRenewMargin {
		return errkind.Newf(errkind.InvalidInput,
			"renew_margin %s is outside the valid [%s, %s] window", margin, MinRenewMargin, MaxRenewMargin)
	}
	return nil
}

// Acquire leases key for attrs with the registry's configured TTL and writes the
// record. It fails with errkind.Conflict if the key is already held by another
// lease.
func (r *Registry) Acquire(ctx context.Context, key SubnetKey, attrs LeaseAttrs) (*Lease, error) {
	etcdLease, err := r.leaseClient.Grant(ctx, int64(r.ttl.Seconds()))
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "granting etcd lease")
	}

	lease := &Lease{
		Subnet:     key,
		SubnetKey:  MakeSubnetKey(key),
		Attrs:      attrs,
		Expiration: time.Now().Add(r.ttl),
	}
	payload, err := json.Marshal(lease)
	if err != nil {
		return nil, errkind.Wrap(errkind.StateCorruption, err, "marshaling lease record")
	}

	fullKey := keyPrefix + lease.SubnetKey
	txn := r.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(fullKey), "=", 0)).
		Then(clientv3.OpPut(fullKey, string(payload), clientv3.WithLease(etcdLease.ID))).
		Else(clientv3.OpGet(fullKey))
	resp, err := txn.Commit()
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "committing lease acquisition")
	}
	if !resp.Succeeded {
		return nil, errkind.Newf(errkind.Conflict, "subnet %s is already leased", lease.SubnetKey)
	}
	return lease, nil
}

// Renew extends an existing lease's TTL via etcd KeepAliveOnce. Callers should
// invoke this when time.Until(lease.Expiration) <= renewMargin, per spec.md §6.
func (r *Registry) Renew(ctx context.Context, etcdLeaseID clientv3.LeaseID) error {
	if _, err := r.leaseClient.KeepAliveOnce(ctx, etcdLeaseID); err != nil {
		return errkind.Wrap(errkind.Transient, err, "renewing etcd lease")
	}
	return nil
}

// ShouldRenew reports whether expiration is close enough to now to need renewal,
// given the registry's configured renew margin.
func (r *Registry) ShouldRenew(expiration time.Time) bool {
	return time.Until(expiration) <= r.renewMargin
}

// Release deletes key's lease record immediately, independent of TTL expiry.
func (r *Registry) Release(ctx context.Context, key SubnetKey) error {
	fullKey := keyPrefix + MakeSubnetKey(key)
	if _, err := r.kv.Delete(ctx, fullKey); err != nil {
		return errkind.Wrap(errkind.Transient, err, "releasing lease")
	}
	return nil
}

// List returns every currently-stored lease, used to seed route.Manager.SyncRoutes
// on startup and after a reconnect.
func (r *Registry) List(ctx context.Context) ([]*Lease, error) {
	resp, err := r.kv.Get(ctx, keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "listing leases")
	}
	leases := make([]*Lease, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var l Lease
		if err := json.Unmarshal(kv.Value, &l); err != nil {
			return nil, errkind.Wrap(errkind.StateCorruption, err, "decoding lease record")
		}
		parsed, err := ParseSubnetKey(l.SubnetKey)
		if err != nil {
			return nil, err
		}
		l.Subnet = parsed
		leases = append(leases, &l)
	}
	return leases, nil
}
