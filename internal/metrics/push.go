package metrics

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushConfig holds configuration for pushing collectors to a Pushgateway.
type PushConfig struct {
	// URL is the Pushgateway base URL. Empty disables pushing.
	URL string

	// Job is the grouping job label.
	// Default: "denorm-postprocessor"
	Job string
}

func (c *PushConfig) validate() {
	if c.Job == "" {
		c.Job = "denorm-postprocessor"
	}
}

// NewPusher returns a pusher for every collector in g. Each process pushes under its own
// instance label so concurrent invocations do not overwrite each other's counters.
func NewPusher(config PushConfig, g prometheus.Gatherer) *push.Pusher {
	config.validate()
	return push.New(config.URL, config.Job).
		Gatherer(g).
		Grouping("instance", uuid.NewString())
}

// PushAfter wraps a Lambda handler so the collectors are pushed once each invocation
// returns. A failed push is logged, never returned.
func PushAfter[E, R any](h func(context.Context, E) (R, error), p *push.Pusher, logger *slog.Logger) func(context.Context, E) (R, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, event E) (R, error) {
		resp, err := h(ctx, event)
		if pushErr := p.AddContext(ctx); pushErr != nil {
			logger.Warn("failed to push metrics", "error", pushErr)
		}
		return resp, err
	}
}
