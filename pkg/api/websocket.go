package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tycostream/tycostream/pkg/gateway"
	"github.com/tycostream/tycostream/pkg/source"
	"github.com/tycostream/tycostream/pkg/view"
)

// ClientMessage is one request frame from a WebSocket client.
type ClientMessage struct {
	Action  string          `json:"action"`
	Source  string          `json:"source,omitempty"`
	Filter  json.RawMessage `json:"filter,omitempty"`
	Unmatch json.RawMessage `json:"unmatch,omitempty"`
	Mode    string          `json:"mode,omitempty"`

	// Snapshot defaults to true: new subscribers get the current rows as
	// inserts before the live tail.
	Snapshot *bool `json:"snapshot,omitempty"`
}

// eventFrame is one row event on the wire.
type eventFrame struct {
	Type   string     `json:"type"`
	Source string     `json:"source"`
	Data   source.Row `json:"data"`
	Fields []string   `json:"fields,omitempty"`
}

// ConnectionManager owns the WebSocket side of the API: one Connection per
// client, each with its own per-source subscriptions into the gateway.
type ConnectionManager struct {
	gateway      *gateway.Gateway
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*Connection
}

// Connection is a single WebSocket client.
//
// subs is guarded by subMu: the read loop adds and removes subscriptions
// while pump goroutines remove their own entry when a stream ends.
type Connection struct {
	ID   string
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]*view.Pipeline

	pumps sync.WaitGroup
}

// NewConnectionManager creates the manager. writeTimeout bounds every frame
// write; a client that cannot drain its socket loses the connection rather
// than stalling a pump.
func NewConnectionManager(gw *gateway.Gateway, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		gateway:      gw,
		writeTimeout: writeTimeout,
		connections:  make(map[string]*Connection),
	}
}

// ActiveConnections returns the count of connected clients.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll disconnects every client. Used at server shutdown, where the
// HTTP server's own drain does not cover hijacked WebSocket connections.
func (m *ConnectionManager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.cancel()
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// HandleConnection runs one client's session. Called by the WebSocket HTTP
// handler after upgrade; blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*view.Pipeline),
	}

	m.register(c)
	defer m.unregister(c)

	slog.Info("WebSocket client connected", "component", "ws", "connection_id", c.ID)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.ID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", c.ID, "error", err)
			m.sendJSON(c, map[string]string{"type": "error", "message": "invalid message"})
			continue
		}

		m.handleClientMessage(ctx, c, &msg)
	}
}

func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Source == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "source is required for subscribe"})
			return
		}
		p, err := m.subscribe(ctx, c, msg)
		if err != nil {
			m.sendSubscriptionError(c, msg.Source, "INVALID_REQUEST", err.Error())
			return
		}
		// Confirm before the pump starts so the confirmation always
		// precedes the first data frame.
		m.sendJSON(c, map[string]string{
			"type":   "subscription.confirmed",
			"source": msg.Source,
		})
		c.pumps.Add(1)
		go m.pump(c, msg.Source, p)

	case "unsubscribe":
		if msg.Source == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "source is required for unsubscribe"})
			return
		}
		c.subMu.Lock()
		p, ok := c.subs[msg.Source]
		delete(c.subs, msg.Source)
		c.subMu.Unlock()
		if ok {
			p.Close()
		}

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})

	default:
		m.sendJSON(c, map[string]string{"type": "error", "message": "unknown action"})
	}
}

// subscribe opens one pipeline and registers it on the connection. One
// subscription per source per connection; a second subscribe to the same
// source is rejected until the first is unsubscribed or ends. The caller
// starts the pump after confirming.
func (m *ConnectionManager) subscribe(ctx context.Context, c *Connection, msg *ClientMessage) (*view.Pipeline, error) {
	src, err := m.gateway.Registry().Lookup(msg.Source)
	if err != nil {
		return nil, err
	}

	var filter *view.Filter
	if len(msg.Filter) > 0 {
		filter, err = view.ParseFilter(src, msg.Filter, msg.Unmatch)
		if err != nil {
			return nil, err
		}
	}
	mode, err := view.ParseMode(msg.Mode)
	if err != nil {
		return nil, err
	}
	snapshot := msg.Snapshot == nil || *msg.Snapshot

	c.subMu.Lock()
	if _, exists := c.subs[msg.Source]; exists {
		c.subMu.Unlock()
		return nil, errDuplicateSubscription
	}
	c.subMu.Unlock()

	p, err := m.gateway.OpenSubscription(ctx, msg.Source, view.Options{
		Filter:   filter,
		Mode:     mode,
		Snapshot: snapshot,
	})
	if err != nil {
		return nil, err
	}

	c.subMu.Lock()
	c.subs[msg.Source] = p
	c.subMu.Unlock()
	return p, nil
}

// pump forwards one pipeline's events to the client until the stream ends.
// A terminal stream error (resync, lagged, shutdown) reaches the client as
// subscription.error; plain unsubscribe does not.
func (m *ConnectionManager) pump(c *Connection, sourceName string, p *view.Pipeline) {
	defer c.pumps.Done()

	for ev := range p.Out() {
		frame := eventFrame{
			Type:   ev.Kind.String(),
			Source: sourceName,
			Data:   ev.Row,
		}
		if ev.Kind == source.Update {
			frame.Fields = ev.ChangedFields
		}
		if err := m.sendFrame(c, frame); err != nil {
			p.Close()
			return
		}
	}

	// Drop our own registration, unless the client already replaced it.
	c.subMu.Lock()
	if c.subs[sourceName] == p {
		delete(c.subs, sourceName)
	}
	c.subMu.Unlock()

	if term, ok := p.Err().(*source.TerminalError); ok {
		slog.Info("Subscription terminated",
			"connection_id", c.ID, "source", sourceName, "code", term.Code)
		m.sendSubscriptionError(c, sourceName, term.Code, term.Message)
	}
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregister tears the connection down: pipelines closed, pumps drained,
// socket closed.
func (m *ConnectionManager) unregister(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.subMu.Lock()
	pipelines := make([]*view.Pipeline, 0, len(c.subs))
	for _, p := range c.subs {
		pipelines = append(pipelines, p)
	}
	c.subs = make(map[string]*view.Pipeline)
	c.subMu.Unlock()
	for _, p := range pipelines {
		p.Close()
	}

	c.cancel()
	c.pumps.Wait()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")

	slog.Info("WebSocket client disconnected", "component", "ws", "connection_id", c.ID)
}

func (m *ConnectionManager) sendSubscriptionError(c *Connection, sourceName, code, message string) {
	m.sendJSON(c, map[string]string{
		"type":    "subscription.error",
		"source":  sourceName,
		"code":    code,
		"message": message,
	})
}

func (m *ConnectionManager) sendFrame(c *Connection, frame eventFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return m.sendRaw(c, data)
}

// sendJSON marshals and sends one control message, logging failures.
func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw writes one frame with the write timeout. Writes are serialized:
// the read loop and every pump share the socket.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
