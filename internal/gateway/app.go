package gateway

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kart-io/ragway/pkg/infra/app"
)

const (
	appName        = "ragway-gateway"
	appDescription = `Ragway Query Gateway

The query-serving gateway for retrieval-augmented generation workloads.

This server provides:
  - Query classification and decomposition
  - Hybrid retrieval with vector and keyword indexes
  - Adaptive load balancing over an inference worker fleet
  - Tiered result caching with streaming responses`
)

// NewApp creates a new gateway application instance.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func() error {
			return Run(opts)
		}),
	)
}

// Run runs the gateway with the given options.
func Run(opts *Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := opts.Config().NewServer(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	return server.Run(ctx)
}
