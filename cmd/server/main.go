package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/arken-sh/arken/pkg/daemons/config"
	"github.com/arken-sh/arken/pkg/token"
	"github.com/arken-sh/arken/pkg/transport"
)

func main() {
	app := &cli.App{
		Name:  "arken-server",
		Usage: "run the arken control plane",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind-address", Value: "0.0.0.0:6444", Usage: "address the QUIC transport listens on"},
			&cli.StringFlag{Name: "bootstrap-address", Value: "0.0.0.0:6443", Usage: "address the agent join-token HTTPS endpoint listens on"},
			&cli.IntFlag{Name: "advertise-port", Value: 6444},
			&cli.StringFlag{Name: "data-dir", Value: "/var/lib/arken"},
			&cli.StringFlag{Name: "token", Usage: "shared secret agents present to join the cluster; generated and persisted under data-dir if unset"},
			&cli.StringSliceFlag{Name: "etcd-endpoint", Value: cli.NewStringSlice("http://127.0.0.1:2379")},
			&cli.DurationFlag{Name: "lease-ttl", Value: 24 * time.Hour},
			&cli.DurationFlag{Name: "lease-renew-margin", Value: 5 * time.Minute},
			&cli.StringFlag{Name: "cluster-cidr", Value: "10.42.0.0/16"},
			&cli.IntFlag{Name: "node-prefix", Value: 24},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func run(c *cli.Context) error {
	_, clusterCIDR, err := net.ParseCIDR(c.String("cluster-cidr"))
	if err != nil {
		return fmt.Errorf("parsing cluster-cidr: %w", err)
	}

	host, _, err := net.SplitHostPort(c.String("bind-address"))
	if err != nil {
		host = c.String("bind-address")
	}
	hosts := []string{host}
	if host == "0.0.0.0" || host == "" {
		hosts = []string{"localhost"}
	}
	cert, err := transport.SelfSignedCert(hosts)
	if err != nil {
		return fmt.Errorf("generating transport certificate: %w", err)
	}

	joinToken, err := resolveToken(c.String("token"), c.String("data-dir"))
	if err != nil {
		return err
	}

	cfg := &config.Control{
		DataDir:          c.String("data-dir"),
		AdvertisePort:    c.Int("advertise-port"),
		BindAddress:      c.String("bind-address"),
		BootstrapAddress: c.String("bootstrap-address"),
		Token:            joinToken,
		EtcdEndpoints:    c.StringSlice("etcd-endpoint"),
		LeaseTTL:         c.Duration("lease-ttl"),
		RenewMargin:      c.Duration("lease-renew-margin"),
		ClusterCIDR:      clusterCIDR,
		NodePrefix:       c.Int("node-prefix"),
		Runtime:          &config.ControlRuntime{ServerCert: cert},
	}

	return Run(c.Context, cfg)
}

// resolveToken returns explicit, otherwise the persisted token under
// dataDir, generating and persisting a new random one on first run. This
// mirrors the teacher's own server-token file, letting a second server or
// an operator read the same join secret back off disk rather than having
// to pass it on every invocation.
func resolveToken(explicit, dataDir string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	tokenFile := filepath.Join(dataDir, "token")
	if existing, err := os.ReadFile(tokenFile); err == nil {
		return string(existing), nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading persisted token from %s: %w", tokenFile, err)
	}

	generated, err := token.Random(16)
	if err != nil {
		return "", fmt.Errorf("generating join token: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", fmt.Errorf("creating data dir %s: %w", dataDir, err)
	}
	if err := os.WriteFile(tokenFile, []byte(generated), 0600); err != nil {
		return "", fmt.Errorf("persisting generated token to %s: %w", tokenFile, err)
	}
	logrus.WithField("token_file", tokenFile).Info("generated new cluster join token")
	return generated, nil
}
