package view

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tycostream/tycostream/pkg/metrics"
	"github.com/tycostream/tycostream/pkg/source"
)

// Options configures one subscriber pipeline.
type Options struct {
	// Filter admits rows into the view; nil passes everything.
	Filter *Filter

	// Mode selects full-row or delta output.
	Mode Mode

	// Snapshot replays the rows present at subscription time as synthetic
	// inserts before the live tail. Without it the pipeline is live-only.
	Snapshot bool

	// Queue bounds the live tail between the cache and this pipeline.
	// Zero means the source default.
	Queue int
}

// Pipeline is one subscriber's view of a source: the optional snapshot
// spliced with the live tail, folded through the filter tracker and the
// projection. Events are read from Out; after Out closes, Err reports why
// the stream ended (nil for plain cancellation).
type Pipeline struct {
	src  *source.Cache
	sub  *source.Subscription
	opts Options

	out    chan source.RowEvent
	logger *slog.Logger

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

// Open attaches a new pipeline to a cache. It blocks until the cache has a
// complete snapshot (even for live-only pipelines, which must not observe a
// half-built world) or the context ends.
func Open(ctx context.Context, cache *source.Cache, opts Options) (*Pipeline, error) {
	sub, err := cache.Subscribe(ctx, opts.Queue, opts.Snapshot)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		src:  cache,
		sub:  sub,
		opts: opts,
		out:  make(chan source.RowEvent),
		logger: slog.With("component", "pipeline",
			"source", cache.Source().Name,
			"subscription_id", sub.ID()),
	}
	go p.run(ctx)
	return p, nil
}

// Out delivers the subscriber's events in order. It closes when the stream
// ends for any reason.
func (p *Pipeline) Out() <-chan source.RowEvent { return p.out }

// Err reports the terminal error after Out closes: a *source.TerminalError,
// or nil when the pipeline was cancelled by its consumer.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close cancels the pipeline. Idempotent and prompt: the cache forgets the
// subscriber and any queued events are dropped.
func (p *Pipeline) Close() {
	p.closeOnce.Do(p.sub.Close)
}

func (p *Pipeline) run(ctx context.Context) {
	tracker := NewTracker(p.opts.Filter, p.logger)
	pk := p.src.Source().PrimaryKey

	defer func() {
		p.Close()
		close(p.out)
		reason := "cancelled"
		if term, ok := p.Err().(*source.TerminalError); ok {
			reason = term.Code
		}
		metrics.SubscriptionEnded(p.src.Source().Name, reason)
	}()

	for _, ev := range p.sub.Snapshot() {
		if !p.emit(ctx, tracker, pk, ev) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.sub.Done():
			p.setErr(p.sub.Err())
			return
		case ev := <-p.sub.Events():
			if !p.emit(ctx, tracker, pk, ev) {
				return
			}
		}
	}
}

// emit runs one event through filter and projection and hands it to the
// consumer. It reports false when the pipeline should stop.
func (p *Pipeline) emit(ctx context.Context, tracker *Tracker, pk string, ev source.RowEvent) bool {
	ev, ok := tracker.Observe(ev)
	if !ok {
		return true
	}
	ev = Project(p.opts.Mode, pk, ev)

	select {
	case p.out <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-p.sub.Done():
		p.setErr(p.sub.Err())
		return false
	}
}

func (p *Pipeline) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}
