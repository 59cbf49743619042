// Package api is the stateless request surface: POST /api/{method}/{path}. Every call resolves the
// caller's identity, passes the route guards and runs its handler in one transaction; writes
// publish cache invalidations that are delivered only after commit.
package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/svenmapprio/menuet/internal/apierror"
	"github.com/svenmapprio/menuet/internal/audit"
	"github.com/svenmapprio/menuet/internal/bus"
	"github.com/svenmapprio/menuet/internal/db"
	"github.com/svenmapprio/menuet/internal/gateway"
	identitydomain "github.com/svenmapprio/menuet/internal/identity/domain"
	identityhandler "github.com/svenmapprio/menuet/internal/identity/handler"
	"github.com/svenmapprio/menuet/internal/identity/service"
	"github.com/svenmapprio/menuet/internal/metrics"
	"github.com/svenmapprio/menuet/internal/policy/engine"
	"github.com/svenmapprio/menuet/internal/readiness"
)

const maxBodyBytes = 1 << 20

// Resolver turns request credentials into a session.
type Resolver interface {
	Resolve(ctx context.Context, creds identitydomain.Credentials) *service.Result
}

// Bus is the publishing surface handlers use; *bus.Bus implements it.
type Bus interface {
	bus.Publisher
	PublishTx(ctx context.Context, tx db.DBTX, group, event string, payload any) error
	BroadcastTx(ctx context.Context, tx db.DBTX, event string, payload any) error
}

// Options configure a Server.
type Options struct {
	Cookies identityhandler.Cookies
	// GatewayHealthURL is polled before the first request is handled. Empty skips the wait.
	GatewayHealthURL string
	HealthInterval   time.Duration
	HTTPClient       *http.Client
	// EnrichmentMaxAttempts bounds retries of enrichment tasks enqueued by put/placeEnrichment.
	EnrichmentMaxAttempts int
	// Audit records successful put and delete calls. Nil disables auditing.
	Audit audit.AuditLogger
}

// Server handles the stateless API.
type Server struct {
	db       *sql.DB
	resolver Resolver
	guards   engine.Evaluator
	bus      Bus
	opts     Options
	log      zerolog.Logger
	routes   map[string]map[string]route

	gatewayUp atomic.Bool
}

// NewServer returns a Server.
func NewServer(pool *sql.DB, resolver Resolver, guards engine.Evaluator, b Bus, opts Options, log zerolog.Logger) *Server {
	if opts.EnrichmentMaxAttempts <= 0 {
		opts.EnrichmentMaxAttempts = 5
	}
	s := &Server{
		db:       pool,
		resolver: resolver,
		guards:   guards,
		bus:      b,
		opts:     opts,
		log:      log.With().Str("component", "api").Logger(),
	}
	s.routes = s.table()
	return s
}

// Routes returns the HTTP handler: the API itself, /ready for the gateway's upstream check, and /metrics.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, s.logRequests)
	r.Post("/api/{method}/*", s.handle)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", metrics.Handler())
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, req, apierror.New(apierror.PathNotFound))
	})
	return r
}

// call is what a route handler sees beyond its context.
type call struct {
	w      http.ResponseWriter
	tx     *sql.Tx
	connID string
	body   []byte
}

func (c *call) decode(v any) error {
	if len(c.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.body, v); err != nil {
		return apierror.Wrap(apierror.InvalidRequest, err)
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	method, path := chi.URLParam(r, "method"), chi.URLParam(r, "*")
	rt, err := s.lookup(method, path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := audit.WithClientIP(r.Context(), r.RemoteAddr)
	if err := s.waitGateway(ctx); err != nil {
		s.writeError(w, r, fmt.Errorf("wait for gateway: %w", err))
		return
	}

	creds := identityhandler.CredentialsFromRequest(r)
	res := s.resolver.Resolve(ctx, creds)
	s.opts.Cookies.Apply(w, res)
	if res.Session != nil && res.IssuedSessionID != "" {
		s.bindConnection(ctx, creds.ConnectionID, res.Session)
	}
	ctx = WithSession(ctx, res.Session)

	raw, input, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rt.auth && res.Session == nil {
		s.writeError(w, r, apierror.New(apierror.UserSessionInvalid))
		return
	}
	if err := s.guard(ctx, method+"/"+path, input); err != nil {
		s.writeError(w, r, err)
		return
	}

	c := &call{w: w, connID: creds.ConnectionID, body: raw}
	var out any
	if rt.tx {
		err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			c.tx = tx
			var runErr error
			out, runErr = rt.fn(ctx, c)
			return runErr
		})
	} else {
		out, err = rt.fn(ctx, c)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.opts.Audit != nil && audit.Audited(method) {
		ar := audit.ParseRoute(method, path)
		s.opts.Audit.LogEvent(ctx, viewerID(ctx), ar.Action, ar.Resource, string(raw))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(method, path string) (route, error) {
	paths, ok := s.routes[method]
	if !ok {
		return route{}, apierror.Wrap(apierror.DomainNotFound, fmt.Errorf("method %q", method))
	}
	if path == "" || strings.Contains(path, "/") {
		return route{}, apierror.Wrap(apierror.PathNotFound, fmt.Errorf("path %q", path))
	}
	rt, ok := paths[path]
	if !ok {
		return route{}, apierror.Wrap(apierror.HandlerNotFound, fmt.Errorf("%s/%s", method, path))
	}
	return rt, nil
}

func (s *Server) guard(ctx context.Context, name string, body map[string]any) error {
	if s.guards == nil {
		return nil
	}
	d, err := s.guards.Evaluate(ctx, engine.Input{Route: name, UserID: viewerID(ctx), Body: body})
	if err != nil {
		return fmt.Errorf("evaluate guards: %w", err)
	}
	if !d.Allowed {
		return apierror.Wrap(apierror.ResourcePermissions, errors.New(strings.Join(d.Reasons, "; ")))
	}
	return nil
}

// waitGateway blocks until the gateway reports healthy once; later calls return immediately.
func (s *Server) waitGateway(ctx context.Context) error {
	if s.opts.GatewayHealthURL == "" || s.gatewayUp.Load() {
		return nil
	}
	if err := readiness.WaitHealthy(ctx, s.opts.HTTPClient, s.opts.GatewayHealthURL, s.opts.HealthInterval); err != nil {
		return err
	}
	s.gatewayUp.Store(true)
	return nil
}

// bindConnection asks whichever gateway holds connID to bind it to s. Failures only delay binding
// until the next handshake.
func (s *Server) bindConnection(ctx context.Context, connID string, sess *identitydomain.Session) {
	if connID == "" {
		return
	}
	if err := gateway.Emit(ctx, s.bus, connID, gateway.SessionEmission{Session: sess}); err != nil {
		s.log.Warn().Err(err).Str("connection_id", connID).Msg("emit session")
	}
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			http.Error(w, "storage unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}

// readBody returns the raw body and its decoded object form. An empty body is allowed.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, map[string]any, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, apierror.Wrap(apierror.InvalidRequest, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, nil, apierror.Wrap(apierror.InvalidRequest, err)
	}
	return raw, obj, nil
}

type errorBody struct {
	Error string        `json:"error"`
	Code  apierror.Code `json:"code"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apierror.From(err)
	ev := s.log.Info()
	if ae.Code == apierror.Unclassified {
		ev = s.log.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Str("code", string(ae.Code)).Msg("api call failed")
	writeJSON(w, ae.Code.Status(), errorBody{Error: ae.Message, Code: ae.Code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
