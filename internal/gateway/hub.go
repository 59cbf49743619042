// Package gateway holds the websocket connections of one process and delivers bus envelopes to
// them. Connections are grouped by their own id, by the bound user and by joined groups.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/svenmapprio/menuet/internal/bus"
	connrepo "github.com/svenmapprio/menuet/internal/connection/repository"
	"github.com/svenmapprio/menuet/internal/query"
	"github.com/svenmapprio/menuet/internal/readiness"
	"github.com/svenmapprio/menuet/internal/telemetry"
	telemetrydomain "github.com/svenmapprio/menuet/internal/telemetry/domain"
)

// StartupObserver is told when a startup envelope comes back through the bus.
type StartupObserver interface {
	ObserveStartup()
}

// Hub is the process-local table of live connections and their groups.
type Hub struct {
	registry connrepo.Registry
	events   telemetry.EventEmitter
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	conns   map[string]*Connection
	groups  map[string]map[string]*Connection
	startup StartupObserver
}

// NewHub returns an empty Hub persisting bindings to registry. events may be nil.
func NewHub(registry connrepo.Registry, events telemetry.EventEmitter, log zerolog.Logger) *Hub {
	return &Hub{
		registry: registry,
		events:   events,
		log:      log.With().Str("component", "gateway").Logger(),
		now:      time.Now,
		conns:    make(map[string]*Connection),
		groups:   make(map[string]map[string]*Connection),
	}
}

// OnStartup registers the observer notified by startup envelopes.
func (h *Hub) OnStartup(o StartupObserver) {
	h.mu.Lock()
	h.startup = o
	h.mu.Unlock()
}

// Add registers c and puts it in its own connection group.
func (h *Hub) Add(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID] = c
	h.joinLocked(c, c.ID)
}

// Remove drops c from every group and closes its queue. The durable binding is left alone.
func (h *Hub) Remove(c *Connection) {
	h.mu.Lock()
	for g := range c.groups {
		h.leaveLocked(c, g)
	}
	if h.conns[c.ID] == c {
		delete(h.conns, c.ID)
	}
	h.mu.Unlock()
	c.close()
}

// Join adds c to group. Joining after Remove is a no-op.
func (h *Hub) Join(c *Connection, group string) {
	h.mu.Lock()
	h.joinLocked(c, group)
	h.mu.Unlock()
}

// Leave removes c from group.
func (h *Hub) Leave(c *Connection, group string) {
	h.mu.Lock()
	h.leaveLocked(c, group)
	h.mu.Unlock()
}

// Bind moves c into userID's identity group, leaving any previous one, and persists the binding.
func (h *Hub) Bind(ctx context.Context, c *Connection, userID int64) error {
	h.mu.Lock()
	if prev := c.UserID(); prev != 0 && prev != userID {
		h.leaveLocked(c, UserGroup(prev))
	}
	h.joinLocked(c, UserGroup(userID))
	c.setUser(userID, h.now())
	h.mu.Unlock()

	if err := h.registry.Set(ctx, c.ID, userID); err != nil {
		return fmt.Errorf("gateway: persist binding: %w", err)
	}
	telemetry.EmitAsync(ctx, h.events, &telemetrydomain.Event{
		Type:         telemetrydomain.EventConnectionBound,
		ConnectionID: c.ID,
		UserID:       userID,
		Source:       "gateway",
	})
	return nil
}

// Unbind makes c anonymous and deletes its durable binding.
func (h *Hub) Unbind(ctx context.Context, c *Connection) error {
	h.mu.Lock()
	if prev := c.UserID(); prev != 0 {
		h.leaveLocked(c, UserGroup(prev))
	}
	c.setUser(0, time.Time{})
	h.mu.Unlock()

	if err := h.registry.Remove(ctx, c.ID); err != nil {
		return fmt.Errorf("gateway: remove binding: %w", err)
	}
	return nil
}

// Connection returns the live connection with id, or nil.
func (h *Hub) Connection(id string) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}

// Len is the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// GroupSize is the number of local connections in group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

func (h *Hub) joinLocked(c *Connection, group string) {
	if h.conns[c.ID] != c {
		return
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Connection)
		h.groups[group] = members
	}
	members[c.ID] = c
	c.groups[group] = struct{}{}
}

func (h *Hub) leaveLocked(c *Connection, group string) {
	delete(c.groups, group)
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// HandleEnvelope implements bus.Handler.
func (h *Hub) HandleEnvelope(ctx context.Context, env bus.Envelope) {
	switch env.Kind {
	case bus.KindGroup:
		if env.Event == EventEmission {
			h.applyEmission(ctx, env)
		}
		h.deliver(h.members(env.Group), env)
	case bus.KindBroadcast:
		h.deliver(h.all(), env)
	case bus.KindGlobal:
		if env.Event == readiness.EventStartup {
			h.mu.RLock()
			o := h.startup
			h.mu.RUnlock()
			if o != nil {
				o.ObserveStartup()
			}
		}
	default:
		h.log.Warn().Str("kind", string(env.Kind)).Msg("gateway: unknown envelope kind")
	}
}

// applyEmission runs the side effect of an emission addressed to a connection held here.
func (h *Hub) applyEmission(ctx context.Context, env bus.Envelope) {
	var w EmissionWrapper
	if err := json.Unmarshal(env.Payload, &w); err != nil {
		h.log.Warn().Err(err).Msg("gateway: undecodable emission")
		return
	}
	c := h.Connection(w.SocketID)
	if c == nil {
		return
	}
	e, err := decodeEmission(w.EmissionPayload)
	if err != nil {
		h.log.Warn().Err(err).Str("type", string(w.EmissionPayload.Type)).Msg("gateway: dropping emission")
		return
	}

	switch v := e.(type) {
	case SessionEmission:
		if v.Session == nil {
			err = h.Unbind(ctx, c)
		} else {
			err = h.Bind(ctx, c, v.Session.User.ID)
		}
	case GroupJoinEmission:
		h.Join(c, GroupName(v.GroupID))
	case ConnectionCheckEmission:
	}
	if err != nil {
		h.log.Error().Err(err).Str("connection_id", c.ID).Msg("gateway: applying emission")
	}
}

func (h *Hub) members(group string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Connection, 0, len(h.groups[group]))
	for _, c := range h.groups[group] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) all() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *Hub) deliver(conns []*Connection, env bus.Envelope) {
	if len(conns) == 0 {
		return
	}
	frame, err := encodeFrame(env.Event, env.Payload)
	if err != nil {
		h.log.Warn().Err(err).Str("event", env.Event).Msg("gateway: encode frame")
		return
	}
	for _, c := range conns {
		c.enqueue(frame)
	}
}

func encodeFrame(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(query.Frame{Event: event, Data: data})
}
