package cni

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoteToConflistPreservesFieldsVerbatim(t *testing.T) {
	conf := []byte(`{"cniVersion":"0.3.1","name":"mynet","type":"bridge","bridge":"cni0","isGateway":true}`)

	list, err := PromoteToConflist(conf)
	require.NoError(t, err)

	assert.Equal(t, "0.3.1", list.CNIVersion, "cniVersion must never be rewritten")
	assert.Equal(t, "mynet", list.Name)
	require.Len(t, list.Plugins, 1)

	var roundTripped map[string]interface{}
	require.NoError(t, json.Unmarshal(list.Plugins[0], &roundTripped))
	assert.Equal(t, "cni0", roundTripped["bridge"])
	assert.Equal(t, true, roundTripped["isGateway"])
}
