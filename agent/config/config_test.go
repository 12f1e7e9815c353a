package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvRequiresURLTokenAndDataDir(t *testing.T) {
	t.Setenv("ARKEN_URL", "")
	t.Setenv("ARKEN_TOKEN", "")
	t.Setenv("ARKEN_DATA_DIR", "")

	_, err := FromEnv()
	require.Error(t, err)

	t.Setenv("ARKEN_URL", "https://10.0.0.1:6443")
	_, err = FromEnv()
	require.Error(t, err)

	t.Setenv("ARKEN_TOKEN", "s3cr3t")
	_, err = FromEnv()
	require.Error(t, err)

	t.Setenv("ARKEN_DATA_DIR", "/var/lib/arken")
	env, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://10.0.0.1:6443", env.ServerURL)
	assert.Equal(t, "s3cr3t", env.Token)
	assert.Equal(t, "/var/lib/arken", env.DataDir)
}

func TestFromEnvReadsOptionalNodeFields(t *testing.T) {
	t.Setenv("ARKEN_URL", "https://10.0.0.1:6443")
	t.Setenv("ARKEN_TOKEN", "s3cr3t")
	t.Setenv("ARKEN_DATA_DIR", "/var/lib/arken")
	t.Setenv("ARKEN_NODE_IP", "10.0.0.5")
	t.Setenv("NODE_NAME", "worker-1")

	env, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", env.NodeIP)
	assert.Equal(t, "worker-1", env.NodeName)
}

func TestHostnameAndIPUsesExplicitValues(t *testing.T) {
	name, ip, err := hostnameAndIP(&EnvInfo{NodeIP: "10.0.0.5", NodeName: "worker-1"})
	require.NoError(t, err)
	assert.Equal(t, "worker-1", name)
	assert.Equal(t, "10.0.0.5", ip)
}

func TestHostnameAndIPDerivesNameFromHostAndIPWhenUnset(t *testing.T) {
	name1, _, err := hostnameAndIP(&EnvInfo{NodeIP: "10.0.0.5"})
	require.NoError(t, err)
	name2, _, err := hostnameAndIP(&EnvInfo{NodeIP: "10.0.0.5"})
	require.NoError(t, err)
	assert.Equal(t, name1, name2, "derived name must be stable for the same IP")

	nameOther, _, err := hostnameAndIP(&EnvInfo{NodeIP: "10.0.0.6"})
	require.NoError(t, err)
	assert.NotEqual(t, name1, nameOther)
}

func TestDefStringFallsBackOnEmpty(t *testing.T) {
	assert.Equal(t, "fallback", defString("", "fallback"))
	assert.Equal(t, "value", defString("value", "fallback"))
}
