// Package config resolves an agent's bootstrap configuration: it validates
// the join token against the server, downloads the server's node-bootstrap
// blob over the pinned HTTPS client clientaccess.Info wraps, and assembles
// the pkg/daemons/config.Node the rest of the agent runs with.
package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	utilnet "k8s.io/apimachinery/pkg/util/net"

	"github.com/arken-sh/arken/pkg/clientaccess"
	"github.com/arken-sh/arken/pkg/daemons/config"
	"github.com/arken-sh/arken/pkg/token"
)

// bootstrapBlob is what the server's "/v1-arken/config" endpoint returns: the
// pieces of cluster-wide configuration an agent cannot know on its own.
type bootstrapBlob struct {
	ClusterCIDR          string   `json:"cluster_cidr"`
	RuntimeSocket        string   `json:"runtime_socket"`
	AdvertisePort        int      `json:"advertise_port"`
	TransportAddress     string   `json:"transport_address"`
	TransportFingerprint string   `json:"transport_fingerprint"`
	EtcdEndpoints        []string `json:"etcd_endpoints"`
}

// EnvInfo is the environment-sourced half of bootstrap, matching the
// K3S_*-style variables the teacher's agent entrypoint reads.
type EnvInfo struct {
	ServerURL string
	Token     string
	DataDir   string
	NodeIP    string
	NodeName  string
}

// FromEnv reads EnvInfo from the ARKEN_* environment variables, returning an
// InvalidInput-flavored error (via errors.New, since this is an ambient
// config path rather than a component boundary) when a required variable is
// unset. ARKEN_TOKEN_FILE is an alternative to ARKEN_TOKEN for deployments
// that mount the join token as a file (e.g. a container-orchestrator
// secret) rather than an env var; FromEnv blocks, retrying every 2 seconds,
// until that file appears, matching token.ReadFile's wait-for-mount
// behavior.
func FromEnv() (*EnvInfo, error) {
	u := os.Getenv("ARKEN_URL")
	if u == "" {
		return nil, errors.New("ARKEN_URL env var is required")
	}
	t := os.Getenv("ARKEN_TOKEN")
	if t == "" {
		tokenFile := os.Getenv("ARKEN_TOKEN_FILE")
		if tokenFile == "" {
			return nil, errors.New("ARKEN_TOKEN or ARKEN_TOKEN_FILE env var is required")
		}
		fileToken, err := token.ReadFile(tokenFile)
		if err != nil {
			return nil, errors.Wrapf(err, "reading token from %s", tokenFile)
		}
		t = fileToken
	}
	dataDir := os.Getenv("ARKEN_DATA_DIR")
	if dataDir == "" {
		return nil, errors.New("ARKEN_DATA_DIR env var is required")
	}
	return &EnvInfo{
		ServerURL: u,
		Token:     t,
		DataDir:   dataDir,
		NodeIP:    os.Getenv("ARKEN_NODE_IP"),
		NodeName:  os.Getenv("NODE_NAME"),
	}, nil
}

// Get blocks, retrying every 5 seconds, until it can retrieve and validate
// the agent's bootstrap configuration from the server, matching the
// teacher's own "keep retrying until the server answers" agent startup loop.
func Get(env *EnvInfo) *config.Node {
	for {
		node, err := get(env)
		if err != nil {
			logrus.WithError(err).Error("failed to retrieve agent bootstrap config")
			time.Sleep(5 * time.Second)
			continue
		}
		return node
	}
}

func get(env *EnvInfo) (*config.Node, error) {
	info, err := clientaccess.ParseAndValidateToken(env.ServerURL, env.Token)
	if err != nil {
		return nil, err
	}

	blob, err := getBootstrapBlob(info)
	if err != nil {
		return nil, err
	}

	_, clusterCIDR, err := net.ParseCIDR(blob.ClusterCIDR)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing cluster CIDR %q from bootstrap config", blob.ClusterCIDR)
	}

	nodeName, nodeIP, err := hostnameAndIP(env)
	if err != nil {
		return nil, err
	}

	return &config.Node{
		NodeName:             nodeName,
		NodeIP:               nodeIP,
		DataDir:              env.DataDir,
		ServerAddress:        info.BaseURL,
		TransportAddress:     blob.TransportAddress,
		TransportFingerprint: blob.TransportFingerprint,
		EtcdEndpoints:        blob.EtcdEndpoints,
		AgentConfig: config.Agent{
			ClusterCIDR:   clusterCIDR,
			RuntimeSocket: defString(blob.RuntimeSocket, "/run/arken/containerd.sock"),
			ListenAddress: "127.0.0.1",
			CNIBinDir:     "/opt/cni/bin",
			CNIConfDir:    "/etc/cni/net.d",
		},
	}, nil
}

func getBootstrapBlob(info *clientaccess.Info) (*bootstrapBlob, error) {
	data, err := info.Get("/v1-arken/config")
	if err != nil {
		return nil, errors.Wrap(err, "fetching bootstrap config from server")
	}
	var blob bootstrapBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, errors.Wrap(err, "parsing bootstrap config")
	}
	return &blob, nil
}

func hostnameAndIP(env *EnvInfo) (string, string, error) {
	ip := env.NodeIP
	if ip == "" {
		hostIP, err := utilnet.ChooseHostInterface()
		if err != nil {
			return "", "", errors.Wrap(err, "choosing host interface for node IP")
		}
		ip = hostIP.String()
	}

	name := env.NodeName
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return "", "", errors.Wrap(err, "reading hostname")
		}
		hostname = strings.Split(hostname, ".")[0]
		d := md5.Sum([]byte(ip))
		name = fmt.Sprintf("%s-%s", hostname, hex.EncodeToString(d[:])[:8])
	}

	return name, ip, nil
}

func defString(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}
