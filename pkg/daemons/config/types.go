// Package config holds the plain Go config structs cmd/server and cmd/agent
// populate from flags and pass down into pkg/scheduler, pkg/registry,
// pkg/netcore, pkg/image, and pkg/transport. No config-file schema is
// implemented (an explicit Non-goal); every field here is set directly by a
// flag or a default in code.
package config

import (
	"crypto/tls"
	"net"
	"time"
)

// Node is the fully-resolved configuration an agent process runs with, built
// by agent/config.Get from flags/env plus whatever the control plane hands
// back over the bootstrap token exchange.
type Node struct {
	NodeName      string
	NodeIP        string
	DataDir       string
	ServerAddress string
	CACertPath    string

	// TransportAddress and TransportFingerprint are learned from the
	// control plane's bootstrap config blob, not from flags: an agent has
	// no other way to know where the QUIC listener lives or what
	// certificate to pin.
	TransportAddress     string
	TransportFingerprint string
	EtcdEndpoints        []string

	AgentConfig Agent
}

// Agent is the subset of Node config the image/containerd and netcore agent
// loops need directly.
type Agent struct {
	ClusterCIDR   *net.IPNet
	RuntimeSocket string
	ListenAddress string
	CNIBinDir     string
	CNIConfDir    string
	Rootless      bool
}

// Control is the server-side configuration: where the scheduler, registry,
// and transport listener bind, and the network pool the cluster allocates
// node subnets from.
type Control struct {
	DataDir          string
	AdvertisePort    int
	BindAddress      string
	BootstrapAddress string
	Token            string

	EtcdEndpoints []string
	LeaseTTL      time.Duration
	RenewMargin   time.Duration

	ClusterCIDR *net.IPNet
	NodePrefix  int

	Runtime *ControlRuntime
}

// ControlRuntime holds values the server computes once at startup (its
// self-signed cert) rather than takes as a flag.
type ControlRuntime struct {
	ServerCert tls.Certificate
}
