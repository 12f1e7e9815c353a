package registry

import (
	"testing"
	"time"

	"github.com/arken-sh/arken/pkg/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubnetKeyIPv4Only(t *testing.T) {
	key, err := ParseSubnetKey("10.0.1.0-24")
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.0/24", key.IPv4.String())
	assert.False(t, key.HasIPv6)
}

func TestParseSubnetKeyIPv4AndIPv6(t *testing.T) {
	key, err := ParseSubnetKey("10.0.1.0-24&fc00::-64")
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.0/24", key.IPv4.String())
	require.True(t, key.HasIPv6)
	assert.Equal(t, "fc00::/64", key.IPv6.String())
}

func TestParseSubnetKeyRejectsMalformed(t *testing.T) {
	_, err := ParseSubnetKey("not-a-subnet-key")
	require.Error(t, err)
	assert.Equal(t, errkind.InvalidInput, errkind.Of(err))
}

func TestMakeSubnetKeyRoundTrips(t *testing.T) {
	for _, s := range []string{"10.0.1.0-24", "10.0.1.0-24&fc00::-64"} {
		key, err := ParseSubnetKey(s)
		require.NoError(t, err)
		assert.Equal(t, s, MakeSubnetKey(key))
	}
}

func TestValidateRenewMarginBounds(t *testing.T) {
	assert.NoError(t, ValidateRenewMargin(1*time.Minute))
	assert.NoError(t, ValidateRenewMargin(1439*time.Minute))
	assert.Error(t, ValidateRenewMargin(0))
	assert.Error(t, ValidateRenewMargin(1440 * time.Minute))
}
