package netcore

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return n
}

func TestSubPrefixesEnumeratesInAscendingOrder(t *testing.T) {
	pool := mustParseCIDR(t, "10.0.0.0/16")
	subs, err := subPrefixes(pool, 24)
	require.NoError(t, err)
	require.Len(t, subs, 256)
	assert.Equal(t, "10.0.0.0", subs[0].IP.String())
	assert.Equal(t, "10.0.1.0", subs[1].IP.String())
	assert.Equal(t, "10.0.255.0", subs[255].IP.String())
}

func TestSubPrefixesRejectsPrefixOutsidePool(t *testing.T) {
	pool := mustParseCIDR(t, "10.0.0.0/24")
	_, err := subPrefixes(pool, 16)
	assert.Error(t, err)
}

func TestSubPrefixesNilPoolReturnsNil(t *testing.T) {
	subs, err := subPrefixes(nil, 24)
	require.NoError(t, err)
	assert.Nil(t, subs)
}
