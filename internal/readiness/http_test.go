package readiness

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestRoutes_ConnectionAndReady(t *testing.T) {
	g := NewGate(time.Millisecond, zerolog.Nop())
	h := Routes(g, nil, "")

	code, body := get(t, h, "/connection")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "false", body)
	code, _ = get(t, h, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, code)

	require.NoError(t, g.Run(context.Background(), Stages{}))
	code, body = get(t, h, "/connection")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "true", body)
	code, _ = get(t, h, "/ready")
	require.Equal(t, http.StatusOK, code)

	code, _ = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, code)
}

func TestRoutes_ReadyConsultsUpstream(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer upstream.Close()

	g := NewGate(time.Millisecond, zerolog.Nop())
	require.NoError(t, g.Run(context.Background(), Stages{}))
	h := Routes(g, upstream.Client(), upstream.URL)

	code, _ := get(t, h, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, code)

	status.Store(http.StatusNoContent)
	code, _ = get(t, h, "/ready")
	require.Equal(t, http.StatusOK, code)
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	probe := HTTPProbe(srv.Client(), srv.URL)
	require.NoError(t, probe(context.Background()), "any answer counts as reachable")

	srv.Close()
	require.Error(t, probe(context.Background()))
}

func TestWaitHealthy(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			_, _ = w.Write([]byte("false"))
			return
		}
		_, _ = w.Write([]byte("true\n"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, WaitHealthy(ctx, srv.Client(), srv.URL, time.Millisecond))
	require.Equal(t, int32(3), calls.Load())
}

func TestWaitHealthy_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("false"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, WaitHealthy(ctx, srv.Client(), srv.URL, time.Millisecond))
}
