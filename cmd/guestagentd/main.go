// Command guestagentd runs the guest-side deployment agent: it wires the
// configuration loader, durable plan queue, executor registry and AMQP
// transport together and drives the agent loop (§4.I) until interrupted.
//
// Flag handling follows the plain "flag" package style the teacher repo
// itself uses for its single-purpose command entry points (cmd/devcmd).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kestrel-ops/guestagent/internal/agent"
	"github.com/kestrel-ops/guestagent/internal/config"
	"github.com/kestrel-ops/guestagent/internal/executor"
	_ "github.com/kestrel-ops/guestagent/internal/executor/application"
	_ "github.com/kestrel-ops/guestagent/internal/executor/chef"
	_ "github.com/kestrel-ops/guestagent/internal/executor/puppet"
	"github.com/kestrel-ops/guestagent/internal/logging"
	"github.com/kestrel-ops/guestagent/internal/queue"
	"github.com/kestrel-ops/guestagent/internal/signer"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "/etc/guestagent/agent.toml", "Path to the agent's TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guestagentd: %v\n", err)
		return 1
	}

	logger := logging.New(cfg.Debug)

	verifier, err := signer.New([]byte(cfg.EngineKey), cfg.RabbitMQ.InputQueue)
	if err != nil {
		logger.Error("loading signature verifier", "error", err)
		return 1
	}

	store, err := queue.Open(cfg.Storage, verifier, logger)
	if err != nil {
		logger.Error("opening plan queue", "error", err)
		return 1
	}

	a := agent.New(cfg, store, executor.Global, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("guestagentd starting", "storage", cfg.Storage, "input_queue", cfg.RabbitMQ.InputQueue)
	if err := a.Run(ctx); err != nil {
		logger.Error("agent loop exited", "error", err)
		return 1
	}
	return 0
}
