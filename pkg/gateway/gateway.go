// Package gateway assembles the streaming runtime: one cache and one
// upstream handler per configured source, a shared view entry point for
// subscribers, and ordered shutdown.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tycostream/tycostream/pkg/config"
	"github.com/tycostream/tycostream/pkg/metrics"
	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/source"
	"github.com/tycostream/tycostream/pkg/upstream"
	"github.com/tycostream/tycostream/pkg/view"
)

// statsInterval is how often per-source gauges are refreshed.
const statsInterval = 10 * time.Second

// managedSource pairs one source's cache with its upstream handler.
type managedSource struct {
	cache   *source.Cache
	handler *upstream.Handler
}

// Gateway owns the per-source streaming machinery. It satisfies
// trigger.CacheProvider so the trigger engine can attach to any source.
type Gateway struct {
	cfg      *config.Config
	registry *schema.Registry
	sources  map[string]*managedSource
	logger   *slog.Logger
}

// New builds the gateway for every source in the registry. Nothing connects
// until Run.
func New(cfg *config.Config, registry *schema.Registry) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		registry: registry,
		sources:  make(map[string]*managedSource, registry.Len()),
		logger:   slog.With("component", "gateway"),
	}

	upstreamCfg := upstream.Config{
		DSN:                 cfg.Database.DSN(),
		FetchTimeout:        cfg.Runtime.FetchTimeout.Std(),
		IdleTimeout:         cfg.Runtime.IdleTimeout.Std(),
		ReconnectMinBackoff: cfg.Runtime.ReconnectMinBackoff.Std(),
		ReconnectMaxBackoff: cfg.Runtime.ReconnectMaxBackoff.Std(),
	}

	for _, src := range registry.All() {
		cache := source.NewCache(src)
		g.sources[src.Name] = &managedSource{
			cache:   cache,
			handler: upstream.NewHandler(upstreamCfg, src, cache),
		}
	}
	return g
}

// Registry exposes the source schemas the gateway serves.
func (g *Gateway) Registry() *schema.Registry { return g.registry }

// Cache returns the cache behind a source name.
func (g *Gateway) Cache(name string) (*source.Cache, error) {
	ms, ok := g.sources[name]
	if !ok {
		return nil, schema.NewSchemaError(name, "", schema.ErrSourceNotFound)
	}
	return ms.cache, nil
}

// OpenSubscription attaches a subscriber pipeline to a source. The queue
// bound defaults to the configured buffer size.
func (g *Gateway) OpenSubscription(ctx context.Context, sourceName string, opts view.Options) (*view.Pipeline, error) {
	cache, err := g.Cache(sourceName)
	if err != nil {
		return nil, err
	}
	if opts.Queue <= 0 {
		opts.Queue = g.cfg.Runtime.BufferSize
	}
	return view.Open(ctx, cache, opts)
}

// SourceHealth is the health report for one source.
type SourceHealth struct {
	State       string `json:"state"`
	Rows        int    `json:"rows"`
	Subscribers int    `json:"subscribers"`
}

// Health reports per-source state. The gateway is live when every source is.
func (g *Gateway) Health() map[string]SourceHealth {
	out := make(map[string]SourceHealth, len(g.sources))
	for name, ms := range g.sources {
		stats := ms.cache.Stats()
		out[name] = SourceHealth{
			State:       ms.handler.State().String(),
			Rows:        stats.Rows,
			Subscribers: stats.Subscribers,
		}
	}
	return out
}

// Live reports whether every source has a complete snapshot and a healthy
// session.
func (g *Gateway) Live() bool {
	for _, ms := range g.sources {
		if ms.handler.State() != upstream.StateLive {
			return false
		}
	}
	return true
}

// Run drives every upstream handler until the context ends or a source
// fails permanently. A fatal source error stops the whole gateway: serving
// a partial set of sources would silently break clients that join on the
// dead one.
func (g *Gateway) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	for name, ms := range g.sources {
		handler := ms.handler
		g.logger.Info("Starting source", "source", name)
		group.Go(func() error {
			return handler.Run(groupCtx)
		})
	}

	group.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case <-ticker.C:
				for name, ms := range g.sources {
					stats := ms.cache.Stats()
					metrics.ObserveSourceStats(name, stats.Rows, stats.Subscribers)
				}
			}
		}
	})

	err := group.Wait()

	// Closing the caches terminates remaining subscribers with the
	// shutdown signal; handlers are already stopped.
	for _, ms := range g.sources {
		ms.cache.Close()
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
