package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	agentconfig "github.com/arken-sh/arken/agent/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := agentconfig.FromEnv()
	if err != nil {
		logrus.Fatal(err)
	}

	if err := Run(ctx, env); err != nil {
		logrus.Fatal(err)
	}
}
