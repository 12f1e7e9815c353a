// Package registry implements the subnet lease registry backed by an external
// strongly-consistent KV store, per spec.md §6. Subnet identity round-trips
// through a canonical string key so it can be used directly as an etcd key,
// grounded on original_source/project/rkl/src/network/subnet.rs's
// parse_subnet_key/make_subnet_key pair.
package registry

import (
	"fmt"
	"net"
	"regexp"

	"github.com/arken-sh/arken/pkg/errkind"
)

// subnetKeyPattern matches "A.B.C.D-P" or "A.B.C.D-P&v6::-P6", exactly the
// pattern the original implementation anchors on.
var subnetKeyPattern = regexp.MustCompile(`^(\d+\.\d+\.\d+\.\d+)-(\d+)(?:&([a-f\d:]+)-(\d+))?$`)

// SubnetKey identifies a lease's IPv4 subnet and optional IPv6 subnet.
type SubnetKey struct {
	IPv4       *net.IPNet
	IPv6       *net.IPNet
	HasIPv6    bool
}

// ParseSubnetKey decodes s into a SubnetKey, or returns an errkind.InvalidInput
// error if it does not match the canonical pattern.
func ParseSubnetKey(s string) (SubnetKey, error) {
	m := subnetKeyPattern.FindStringSubmatch(s)
	if m == nil {
		return SubnetKey{}, errkind.Newf(errkind.InvalidInput, "subnet key %q does not match the canonical pattern", s)
	}

	ipv4Net, err := cidrFromParts(m[1], m[2])
	if err != nil {
		return SubnetKey{}, errkind.Wrapf(errkind.InvalidInput, err, "parsing IPv4 portion of subnet key %q", s)
	}

	key := SubnetKey{IPv4: ipv4Net}
	if m[3] != "" && m[4] != "" {
		ipv6Net, err := cidrFromParts(m[3], m[4])
		if err != nil {
			return SubnetKey{}, errkind.Wrapf(errkind.InvalidInput, err, "parsing IPv6 portion of subnet key %q", s)
		}
		key.IPv6 = ipv6Net
		key.HasIPv6 = true
	}
	return key, nil
}

func cidrFromParts(ip, prefix string) (*net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(ip + "/" + prefix)
	if err != nil {
		return nil, err
	}
	return ipnet, nil
}

// MakeSubnetKey encodes the SubnetKey back into its canonical string form, the
// inverse of ParseSubnetKey.
func MakeSubnetKey(k SubnetKey) string {
	s := cidrToKeyPart(k.IPv4)
	if k.HasIPv6 && k.IPv6 != nil {
		s += "&" + cidrToKeyPart(k.IPv6)
	}
	return s
}

func cidrToKeyPart(n *net.IPNet) string {
	ones, _ := n.Mask.Size()
	return fmt.Sprintf("%s-%d", n.IP.String(), ones)
}
