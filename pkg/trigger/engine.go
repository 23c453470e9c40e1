package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/source"
	"github.com/tycostream/tycostream/pkg/view"
)

var (
	// ErrDuplicateTrigger rejects a registration reusing a (source, name)
	// pair that is still active.
	ErrDuplicateTrigger = errors.New("trigger already registered")

	// ErrTriggerNotFound rejects operations on unknown triggers.
	ErrTriggerNotFound = errors.New("trigger not found")
)

// CacheProvider resolves a source name to its running cache. Implemented by
// the gateway.
type CacheProvider interface {
	Cache(name string) (*source.Cache, error)
}

// Engine owns every registered trigger. Registrations are keyed by
// (source, name); names are unique per source.
type Engine struct {
	registry *schema.Registry
	caches   CacheProvider
	cfg      WebhookConfig
	client   *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	triggers map[string]*Trigger
	closed   bool
}

// NewEngine creates an engine delivering through the given HTTP client. A
// nil client gets one with the configured request timeout.
func NewEngine(registry *schema.Registry, caches CacheProvider, cfg WebhookConfig, client *http.Client) *Engine {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Engine{
		registry: registry,
		caches:   caches,
		cfg:      cfg,
		client:   client,
		logger:   slog.With("component", "trigger"),
		triggers: make(map[string]*Trigger),
	}
}

func triggerKey(sourceName, name string) string {
	return sourceName + "/" + name
}

// Register parses the trigger's match and optional unmatch filters, opens a
// live-only pipeline on the source, and starts delivery.
func (e *Engine) Register(ctx context.Context, sourceName, name, webhookURL string, match, unmatch json.RawMessage) (*Trigger, error) {
	if name == "" {
		return nil, errors.New("trigger name is required")
	}
	if webhookURL == "" {
		return nil, errors.New("webhook URL is required")
	}

	src, err := e.registry.Lookup(sourceName)
	if err != nil {
		return nil, err
	}
	filter, err := view.ParseFilter(src, match, unmatch)
	if err != nil {
		return nil, err
	}
	cache, err := e.caches.Cache(sourceName)
	if err != nil {
		return nil, err
	}

	// The pipeline lives as long as the trigger, not the registration call:
	// callers hand in short-lived contexts (HTTP requests), which only bound
	// the wait for a complete snapshot here.
	watchCtx, watchCancel := context.WithCancel(context.Background())
	unbind := context.AfterFunc(ctx, watchCancel)
	pipeline, err := view.Open(watchCtx, cache, view.Options{
		Filter:   filter,
		Mode:     view.FullRow,
		Snapshot: false,
	})
	unbind()
	if err != nil {
		watchCancel()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		watchCancel()
		pipeline.Close()
		return nil, err
	}

	deliverCtx, deliverCancel := context.WithCancel(context.Background())
	tlog := e.logger.With("source", sourceName, "trigger", name)
	t := &Trigger{
		spec: Spec{
			Source:     sourceName,
			Name:       name,
			WebhookURL: webhookURL,
			Filter:     filter,
		},
		logger:        tlog,
		pipeline:      pipeline,
		poster:        newPoster(e.client, webhookURL, e.cfg, tlog),
		outbound:      make(chan Event, e.cfg.QueueSize),
		watchCancel:   watchCancel,
		deliverCancel: deliverCancel,
		watchDone:     make(chan struct{}),
		deliverDone:   make(chan struct{}),
	}

	key := triggerKey(sourceName, name)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		watchCancel()
		deliverCancel()
		pipeline.Close()
		return nil, source.ErrSourceShutdown
	}
	if _, exists := e.triggers[key]; exists {
		e.mu.Unlock()
		watchCancel()
		deliverCancel()
		pipeline.Close()
		return nil, fmt.Errorf("%w: %s on %s", ErrDuplicateTrigger, name, sourceName)
	}
	e.triggers[key] = t
	e.mu.Unlock()

	go t.watch(watchCtx, e.forget)
	go t.deliver(deliverCtx)

	t.logger.Info("Trigger registered", "webhook_url", webhookURL)
	return t, nil
}

// Close stops one trigger, waiting for its in-flight webhook attempt.
func (e *Engine) Close(sourceName, name string) error {
	key := triggerKey(sourceName, name)
	e.mu.Lock()
	t, ok := e.triggers[key]
	if ok {
		delete(e.triggers, key)
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrTriggerNotFound, name, sourceName)
	}
	// Give the queued events one request's worth of time; Close is a
	// management call, not a drain point.
	t.stop(e.cfg.RequestTimeout)
	t.logger.Info("Trigger closed")
	return nil
}

// forget removes a trigger that disposed itself (pipeline terminated or
// queue overflowed). Called from the trigger's own goroutine.
func (e *Engine) forget(t *Trigger) {
	key := triggerKey(t.spec.Source, t.spec.Name)
	e.mu.Lock()
	if current, ok := e.triggers[key]; ok && current == t {
		delete(e.triggers, key)
	}
	e.mu.Unlock()
}

// Status describes one registered trigger for the management API.
type Status struct {
	Source     string `json:"source"`
	Name       string `json:"name"`
	WebhookURL string `json:"webhook_url"`
}

// List returns the active triggers sorted by source then name.
func (e *Engine) List() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Status, 0, len(e.triggers))
	for _, t := range e.triggers {
		out = append(out, Status{
			Source:     t.spec.Source,
			Name:       t.spec.Name,
			WebhookURL: t.spec.WebhookURL,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Shutdown stops all triggers, allowing up to grace for pending webhook
// deliveries to finish before abandoning them.
func (e *Engine) Shutdown(grace time.Duration) {
	e.mu.Lock()
	e.closed = true
	triggers := make([]*Trigger, 0, len(e.triggers))
	for _, t := range e.triggers {
		triggers = append(triggers, t)
	}
	e.triggers = make(map[string]*Trigger)
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range triggers {
		wg.Add(1)
		go func(t *Trigger) {
			defer wg.Done()
			t.stop(grace)
		}(t)
	}
	wg.Wait()
	e.logger.Info("All triggers stopped", "count", len(triggers))
}
