package main

import (
	"testing"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterRegisterAddsNodeAndConn(t *testing.T) {
	c := newCluster()
	var conn quic.Connection

	c.register("node-a", conn)

	nodes := c.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "node-a", nodes[0].Node.Name)

	got, ok := c.connFor("node-a")
	assert.True(t, ok)
	assert.Equal(t, conn, got)
}

func TestClusterRegisterIsIdempotentAboutNodeInfo(t *testing.T) {
	c := newCluster()
	var conn quic.Connection

	c.register("node-a", conn)
	c.register("node-a", conn)

	assert.Len(t, c.Nodes(), 1)
}

func TestClusterUnregisterRemovesNodeAndConn(t *testing.T) {
	c := newCluster()
	var conn quic.Connection
	c.register("node-a", conn)

	c.unregister("node-a")

	assert.Empty(t, c.Nodes())
	_, ok := c.connFor("node-a")
	assert.False(t, ok)
}

func TestClusterConnForUnknownNode(t *testing.T) {
	c := newCluster()
	_, ok := c.connFor("ghost")
	assert.False(t, ok)
}
