package route

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mustCIDR(s string) *net.IPNet {
	_, n, _ := net.ParseCIDR(s)
	return n
}

func TestRouteEqualIgnoresMetricAndKind(t *testing.T) {
	a := Route{Dst: mustCIDR("10.0.1.0/24"), Gateway: net.ParseIP("192.168.1.1"), OifIndex: 2}
	b := Route{Dst: mustCIDR("10.0.1.0/24"), Gateway: net.ParseIP("192.168.1.1"), OifIndex: 2, Blackhole: true}
	assert.True(t, a.Equal(b), "equality is defined over dst+gw+oif only")
}

func TestRouteEqualDiffersOnGateway(t *testing.T) {
	a := Route{Dst: mustCIDR("10.0.1.0/24"), Gateway: net.ParseIP("192.168.1.1"), OifIndex: 2}
	b := Route{Dst: mustCIDR("10.0.1.0/24"), Gateway: net.ParseIP("192.168.1.2"), OifIndex: 2}
	assert.False(t, a.Equal(b))
}

func TestManagerAddToListDeduplicates(t *testing.T) {
	m := NewManager(2, "host-gw")
	r := Route{Dst: mustCIDR("10.0.1.0/24"), Gateway: net.ParseIP("192.168.1.1"), OifIndex: 2}
	m.addToList(r)
	m.addToList(r)
	assert.Len(t, m.routes, 1)
}

func TestManagerRemoveFromListOnlyRemovesOneMatch(t *testing.T) {
	m := NewManager(2, "host-gw")
	r := Route{Dst: mustCIDR("10.0.1.0/24"), Gateway: net.ParseIP("192.168.1.1"), OifIndex: 2}
	m.addToList(r)
	m.removeFromList(r)
	assert.Empty(t, m.routes)
}
