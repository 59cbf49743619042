package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/svenmapprio/menuet/internal/apierror"
	"github.com/svenmapprio/menuet/internal/bus"
	identitydomain "github.com/svenmapprio/menuet/internal/identity/domain"
	"github.com/svenmapprio/menuet/internal/metrics"
)

// Handlers is the query handler table supplied by the data layer. Each handler runs in its own
// transaction. session is nil for anonymous connections.
type Handlers interface {
	Search(ctx context.Context, session *identitydomain.Session, req SearchRequest) (any, error)
}

// SessionResolver finds the session behind a connection.
type SessionResolver interface {
	ResolveConnection(ctx context.Context, connID string) (*identitydomain.Session, error)
}

// Dispatcher runs queries and publishes their responses to the originating connection.
type Dispatcher struct {
	handlers Handlers
	sessions SessionResolver
	bus      bus.Publisher
	log      zerolog.Logger
	tracer   trace.Tracer
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(handlers Handlers, sessions SessionResolver, p bus.Publisher, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: handlers,
		sessions: sessions,
		bus:      p,
		log:      log.With().Str("component", "query").Logger(),
		tracer:   otel.Tracer("github.com/svenmapprio/menuet/internal/query"),
	}
}

// Dispatch runs w for connID and publishes exactly one response to group connID. Handler
// failures become error responses; the returned error only reports a failed publish.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, w Wrapper) error {
	ctx, span := d.tracer.Start(ctx, "query.Dispatch", trace.WithAttributes(
		attribute.String("query.type", w.QueryPayload.Type),
		attribute.String("query.id", w.QueryID),
	))
	defer span.End()

	start := time.Now()
	resp := d.run(ctx, connID, w)
	outcome := "ok"
	if resp.Error != nil {
		outcome = string(resp.Error.Code)
		span.SetStatus(codes.Error, resp.Error.Message)
	}
	metrics.Queries.WithLabelValues(w.QueryPayload.Type, outcome).Inc()
	metrics.QueryDuration.WithLabelValues(w.QueryPayload.Type).Observe(time.Since(start).Seconds())

	if err := d.bus.Publish(ctx, connID, ResponseEvent(w.QueryID), resp); err != nil {
		span.RecordError(err)
		return fmt.Errorf("query: publish response: %w", err)
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, connID string, w Wrapper) Response {
	req, err := Decode(w.QueryPayload)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			err = apierror.Wrap(apierror.HandlerNotFound, err)
		}
		return d.fail(w, err)
	}

	session, err := d.sessions.ResolveConnection(ctx, connID)
	if err != nil {
		// Resolution failures degrade to anonymous.
		d.log.Debug().Err(err).Str("connection_id", connID).Msg("resolve connection failed")
		session = nil
	}

	var result any
	switch r := req.(type) {
	case SearchRequest:
		result, err = d.handlers.Search(ctx, session, r)
	default:
		err = apierror.Wrap(apierror.HandlerNotFound, fmt.Errorf("query: no handler for %T", r))
	}
	if err != nil {
		return d.fail(w, err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return d.fail(w, err)
	}
	return Response{QueryID: w.QueryID, Data: data}
}

func (d *Dispatcher) fail(w Wrapper, err error) Response {
	ae := apierror.From(err)
	ev := d.log.Warn()
	if ae.Code == apierror.Unclassified {
		ev = d.log.Error()
	}
	ev.Err(err).Str("query_id", w.QueryID).Str("type", w.QueryPayload.Type).Msg("query failed")
	return ErrorResponse(w.QueryID, err)
}
