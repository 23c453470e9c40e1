// Package upstream drives the long-lived SUBSCRIBE session of each source:
// one dedicated connection per source, decoded from the diff stream into
// ordered row events, with snapshot demarcation from the upstream's
// progress reports.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"

	"github.com/tycostream/tycostream/pkg/metrics"
	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/source"
)

// State tracks where a handler is in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateSnapshotting
	StateLive
	StateReconnecting
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSnapshotting:
		return "snapshotting"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateFatal:
		return "fatal"
	}
	return "unknown"
}

// Config holds the per-session tunables. Zero values pick the defaults.
type Config struct {
	// DSN is the upstream PostgreSQL/Materialize connection string.
	DSN string

	// FetchTimeout bounds how long one FETCH waits server-side for new
	// data before returning an empty batch.
	FetchTimeout time.Duration

	// IdleTimeout forces a reconnect when the session yields neither data
	// nor progress for this long. The upstream emits progress on the order
	// of once a second, so silence means the session is dead.
	IdleTimeout time.Duration

	ReconnectMinBackoff time.Duration
	ReconnectMaxBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.ReconnectMinBackoff <= 0 {
		c.ReconnectMinBackoff = time.Second
	}
	if c.ReconnectMaxBackoff <= 0 {
		c.ReconnectMaxBackoff = 30 * time.Second
	}
	return c
}

// Handler owns the single writer side of one source cache. It connects,
// declares the SUBSCRIBE cursor, feeds decoded records through the
// coalescer, and rebuilds the session with backoff when it fails.
type Handler struct {
	cfg    Config
	source *schema.Source
	cache  *source.Cache
	logger *slog.Logger

	state atomic.Int32
}

// NewHandler creates the protocol handler for one source.
func NewHandler(cfg Config, src *schema.Source, cache *source.Cache) *Handler {
	return &Handler{
		cfg:    cfg.withDefaults(),
		source: src,
		cache:  cache,
		logger: slog.With("component", "upstream", "source", src.Name),
	}
}

// State returns the lifecycle state for health reporting.
func (h *Handler) State() State {
	return State(h.state.Load())
}

func (h *Handler) setState(s State) {
	h.state.Store(int32(s))
}

// Run drives connect, stream, and reconnect until the context ends or the
// source fails permanently. Losing an established session resets the cache,
// which terminates subscribers with a resync signal; they pick up the next
// session's snapshot by re-subscribing.
func (h *Handler) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = h.cfg.ReconnectMinBackoff
	bo.MaxInterval = h.cfg.ReconnectMaxBackoff
	bo.MaxElapsedTime = 0

	for {
		h.setState(StateConnecting)
		live, err := h.runSession(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsFatal(err) {
			h.setState(StateFatal)
			h.logger.Error("Source failed permanently", "error", err)
			h.cache.Close()
			return err
		}

		h.setState(StateReconnecting)
		h.cache.Reset(source.ErrUpstreamResync)
		metrics.UpstreamReconnect(h.source.Name)

		if live {
			// The previous session was healthy; start the ladder over.
			bo.Reset()
		}
		wait := bo.NextBackOff()
		h.logger.Warn("Upstream session lost, reconnecting",
			"error", err, "backoff", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runSession runs one SUBSCRIBE session to completion. It reports whether
// the session reached the live state, which resets the reconnect ladder.
func (h *Handler) runSession(ctx context.Context) (bool, error) {
	connCfg, err := pgx.ParseConfig(h.cfg.DSN)
	if err != nil {
		return false, fatalf("invalid DSN: %v", err)
	}
	// SUBSCRIBE output is decoded from text; the simple protocol keeps
	// results in text format end to end.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	// The cursor lives inside a transaction that lasts the whole session.
	if _, err := conn.Exec(ctx, "BEGIN"); err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	declare := fmt.Sprintf(
		"DECLARE tyco_cur CURSOR FOR SUBSCRIBE TO %s WITH (PROGRESS, SNAPSHOT)",
		pgx.Identifier{h.source.Name}.Sanitize(),
	)
	if _, err := conn.Exec(ctx, declare); err != nil {
		return false, fmt.Errorf("declare subscribe cursor: %w", err)
	}

	h.setState(StateSnapshotting)
	h.logger.Info("Upstream session established")

	co := newCoalescer(h.source, h.cache, h.logger)
	fetch := fmt.Sprintf("FETCH ALL tyco_cur WITH (timeout = '%dms')",
		h.cfg.FetchTimeout.Milliseconds())

	var layout *rowLayout
	lastActivity := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return co.SnapshotComplete(), err
		}

		// The deadline catches sessions that hang without failing; the
		// server-side FETCH timeout returns well before it when healthy.
		queryCtx, cancel := context.WithTimeout(ctx, h.cfg.FetchTimeout+h.cfg.IdleTimeout)
		rows, err := conn.Query(queryCtx, fetch)
		if err != nil {
			cancel()
			return co.SnapshotComplete(), fmt.Errorf("fetch: %w", err)
		}
		n, err := h.drain(rows, co, &layout)
		cancel()
		if err != nil {
			return co.SnapshotComplete(), err
		}

		if co.SnapshotComplete() && State(h.state.Load()) == StateSnapshotting {
			h.setState(StateLive)
		}

		if n > 0 {
			lastActivity = time.Now()
		} else if time.Since(lastActivity) > h.cfg.IdleTimeout {
			return co.SnapshotComplete(), fmt.Errorf("%w after %s", ErrIdle, h.cfg.IdleTimeout)
		}
	}
}

// drain consumes one FETCH batch, feeding the coalescer. It returns the
// number of records seen, progress included.
func (h *Handler) drain(rows pgx.Rows, co *coalescer, layout **rowLayout) (int, error) {
	defer rows.Close()

	count := 0
	for rows.Next() {
		if *layout == nil {
			l, err := newRowLayout(h.source, rows.FieldDescriptions())
			if err != nil {
				return count, err
			}
			*layout = l
		}

		rec, err := (*layout).decodeRecord(h.source, rows.RawValues())
		if err != nil {
			return count, err
		}
		count++

		if rec.progressed {
			co.Progress(rec.ts)
			continue
		}
		if err := co.Add(rec.ts, rec.diff, rec.row); err != nil {
			return count, err
		}
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("stream: %w", err)
	}
	return count, nil
}
