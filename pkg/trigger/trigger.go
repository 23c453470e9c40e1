package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tycostream/tycostream/pkg/source"
	"github.com/tycostream/tycostream/pkg/view"
)

// Spec declares one trigger: a named filter on a source plus the webhook
// that hears about its transitions.
type Spec struct {
	Source     string
	Name       string
	WebhookURL string
	Filter     *view.Filter
}

// Trigger is one running trigger instance. It owns a live-only filtered
// pipeline and a delivery worker; the bounded queue between them is the
// only coupling, so a dead webhook can never stall the source.
type Trigger struct {
	spec   Spec
	logger *slog.Logger

	pipeline *view.Pipeline
	poster   *poster
	outbound chan Event

	watchCancel   context.CancelFunc
	deliverCancel context.CancelFunc
	watchDone     chan struct{}
	deliverDone   chan struct{}

	mu  sync.Mutex
	err error
}

// Name returns the trigger's name, unique within its source.
func (t *Trigger) Name() string { return t.spec.Name }

// Source returns the source the trigger watches.
func (t *Trigger) Source() string { return t.spec.Source }

// WebhookURL returns the configured sink.
func (t *Trigger) WebhookURL() string { return t.spec.WebhookURL }

// Err reports why the trigger stopped, nil while running or after a clean
// close.
func (t *Trigger) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Trigger) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

// stop shuts the trigger down. Intake ends immediately; the delivery worker
// gets up to grace to drain queued and in-flight webhooks before it is cut
// off.
func (t *Trigger) stop(grace time.Duration) {
	t.watchCancel()
	t.pipeline.Close()
	<-t.watchDone

	select {
	case <-t.deliverDone:
	case <-time.After(grace):
		t.logger.Warn("Abandoning pending webhook deliveries", "grace", grace)
		t.deliverCancel()
		<-t.deliverDone
	}
}

// watch consumes the pipeline: Insert means the key entered the match
// region (FIRE), Delete means it left (CLEAR), Update is a row moving
// around inside the region and is not a transition.
func (t *Trigger) watch(ctx context.Context, disposed func(*Trigger)) {
	defer close(t.watchDone)
	defer close(t.outbound)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-t.pipeline.Out():
			if !ok {
				if err := t.pipeline.Err(); err != nil {
					t.setErr(err)
					t.logger.Warn("Trigger pipeline terminated", "error", err)
					disposed(t)
				}
				return
			}

			var kind EventType
			switch ev.Kind {
			case source.Insert:
				kind = EventFire
			case source.Delete:
				kind = EventClear
			default:
				continue
			}

			out := Event{
				EventType:   kind,
				TriggerName: t.spec.Name,
				Timestamp:   time.Now().UTC(),
				Data:        ev.Row,
			}
			select {
			case t.outbound <- out:
			default:
				// The webhook sink has fallen too far behind. Dispose the
				// trigger; the source and its other consumers are unaffected.
				t.setErr(source.ErrTriggerOverflow)
				t.logger.Error("Trigger outbound queue overflowed, disposing trigger",
					"queue_capacity", cap(t.outbound))
				t.pipeline.Close()
				t.deliverCancel()
				disposed(t)
				return
			}
		}
	}
}

// deliver drains the outbound queue, posting events one at a time so a
// trigger's FIREs and CLEARs reach the sink in the order they happened.
func (t *Trigger) deliver(ctx context.Context) {
	defer close(t.deliverDone)

	for ev := range t.outbound {
		if ctx.Err() != nil {
			return
		}
		if err := t.poster.post(ctx, ev); err != nil {
			// At-least-once with a bounded budget: the event is given up
			// after the configured attempts, the trigger keeps running.
			t.logger.Error("Webhook event abandoned",
				"event_type", ev.EventType, "error", err)
		}
	}
}
