package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/svenmapprio/menuet/internal/apierror"
	identitydomain "github.com/svenmapprio/menuet/internal/identity/domain"
	identityhandler "github.com/svenmapprio/menuet/internal/identity/handler"
	"github.com/svenmapprio/menuet/internal/identity/service"
	"github.com/svenmapprio/menuet/internal/metrics"
	"github.com/svenmapprio/menuet/internal/query"
	"github.com/svenmapprio/menuet/internal/telemetry"
	telemetrydomain "github.com/svenmapprio/menuet/internal/telemetry/domain"
)

// Resolver resolves the identity presented on the upgrade request.
type Resolver interface {
	Resolve(ctx context.Context, creds identitydomain.Credentials) *service.Result
}

// Dispatcher runs a query and publishes its response to the connection's group.
type Dispatcher interface {
	Dispatch(ctx context.Context, connID string, w query.Wrapper) error
}

// Options tune a Handler. Zero values get defaults.
type Options struct {
	Cookies identityhandler.Cookies
	// OriginPatterns are passed to websocket.Accept; empty allows same-origin only.
	OriginPatterns []string
	// QueueSize bounds each connection's outbound queue (default 64).
	QueueSize int
	// QueryRate and QueryBurst limit queries per connection. A zero rate disables the limit.
	QueryRate  rate.Limit
	QueryBurst int
	// WriteTimeout bounds a single frame write (default 5s).
	WriteTimeout time.Duration
}

// Handler serves the websocket endpoint.
type Handler struct {
	hub        *Hub
	resolver   Resolver
	dispatcher Dispatcher
	events     telemetry.EventEmitter
	opts       Options
	log        zerolog.Logger
	newID      func() string
}

// NewHandler returns a Handler registering connections on hub. events may be nil.
func NewHandler(hub *Hub, resolver Resolver, dispatcher Dispatcher, events telemetry.EventEmitter, opts Options, log zerolog.Logger) *Handler {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.QueryRate == 0 {
		opts.QueryRate = rate.Inf
	}
	if opts.QueryBurst <= 0 {
		opts.QueryBurst = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Handler{
		hub:        hub,
		resolver:   resolver,
		dispatcher: dispatcher,
		events:     events,
		opts:       opts,
		log:        log.With().Str("component", "gateway").Logger(),
		newID:      uuid.NewString,
	}
}

// ServeHTTP upgrades the request and serves the connection until either side closes it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := h.newID()
	creds := identityhandler.CredentialsFromRequest(r)
	// The socketId cookie names a previous connection; a new socket gets a new id.
	creds.ConnectionID = ""
	res := h.resolver.Resolve(r.Context(), creds)

	h.opts.Cookies.Apply(w, res)
	h.opts.Cookies.SetConnection(w, connID)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		h.log.Debug().Err(err).Msg("gateway: upgrade refused")
		return
	}
	defer ws.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := newConnection(connID, h.opts.QueueSize, h.opts.QueryRate, h.opts.QueryBurst)
	h.hub.Add(conn)
	metrics.LiveConnections.Inc()
	telemetry.EmitAsync(ctx, h.events, &telemetrydomain.Event{
		Type:         telemetrydomain.EventConnectionOpened,
		ConnectionID: connID,
		Source:       "gateway",
	})
	defer func() {
		h.hub.Remove(conn)
		metrics.LiveConnections.Dec()
		telemetry.EmitAsync(ctx, h.events, &telemetrydomain.Event{
			Type:         telemetrydomain.EventConnectionClosed,
			ConnectionID: connID,
			UserID:       conn.UserID(),
			Source:       "gateway",
		})
	}()

	if res.Session != nil {
		if err := h.hub.Bind(ctx, conn, res.Session.User.ID); err != nil {
			h.log.Error().Err(err).Str("connection_id", connID).Msg("gateway: bind on connect")
		}
	}

	idJSON, _ := json.Marshal(connID)
	if frame, err := encodeFrame(query.EventConnect, idJSON); err == nil {
		conn.enqueue(frame)
	}

	go func() {
		if err := h.writeLoop(ctx, ws, conn); err != nil {
			h.log.Debug().Err(err).Str("connection_id", connID).Msg("gateway: write loop ended")
		}
		cancel()
	}()

	err = h.readLoop(ctx, ws, conn)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		ws.Close(websocket.StatusNormalClosure, "")
	default:
		if !errors.Is(err, context.Canceled) {
			h.log.Debug().Err(err).Str("connection_id", connID).Msg("gateway: read loop ended")
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, conn *Connection) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.done:
			return nil
		case frame := <-conn.send:
			wctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conn *Connection) error {
	for {
		_, msg, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		var f query.Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			h.log.Debug().Err(err).Str("connection_id", conn.ID).Msg("gateway: ignoring undecodable frame")
			continue
		}
		if f.Event != query.EventQuery {
			continue
		}
		var qw query.Wrapper
		if err := json.Unmarshal(f.Data, &qw); err != nil || !qw.IsQuery || qw.QueryID == "" {
			h.log.Debug().Str("connection_id", conn.ID).Msg("gateway: ignoring frame without a query")
			continue
		}
		if !conn.markQuery(qw.QueryID) {
			h.log.Debug().Str("connection_id", conn.ID).Str("query_id", qw.QueryID).Msg("gateway: dropping replayed query")
			continue
		}
		if !conn.allow() {
			h.rejectRateLimited(ctx, conn, qw.QueryID)
			continue
		}
		go func() {
			// The response is published even if the client has gone; nobody will receive it.
			if err := h.dispatcher.Dispatch(context.WithoutCancel(ctx), conn.ID, qw); err != nil {
				h.log.Error().Err(err).Str("connection_id", conn.ID).Str("query_id", qw.QueryID).Msg("gateway: dispatch")
			}
		}()
	}
}

// rejectRateLimited answers the query locally; a throttled query never reaches the bus.
func (h *Handler) rejectRateLimited(ctx context.Context, conn *Connection, queryID string) {
	data, err := json.Marshal(query.ErrorResponse(queryID, apierror.New(apierror.RateLimited)))
	if err != nil {
		return
	}
	if frame, err := encodeFrame(query.ResponseEvent(queryID), data); err == nil {
		conn.enqueue(frame)
	}
	telemetry.EmitAsync(ctx, h.events, &telemetrydomain.Event{
		Type:         telemetrydomain.EventQueryRateLimited,
		ConnectionID: conn.ID,
		UserID:       conn.UserID(),
		Source:       "gateway",
	})
}
