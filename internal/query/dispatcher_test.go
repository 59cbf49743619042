package query

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/svenmapprio/menuet/internal/apierror"
	"github.com/svenmapprio/menuet/internal/bus"
	"github.com/svenmapprio/menuet/internal/bus/bustest"
	identitydomain "github.com/svenmapprio/menuet/internal/identity/domain"
)

type fakeHandlers struct {
	mu       sync.Mutex
	sessions []*identitydomain.Session
	err      error
}

func (h *fakeHandlers) Search(_ context.Context, s *identitydomain.Session, req SearchRequest) (any, error) {
	h.mu.Lock()
	h.sessions = append(h.sessions, s)
	h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return []string{"match:" + req.Term}, nil
}

type fakeResolver map[string]*identitydomain.Session

func (r fakeResolver) ResolveConnection(_ context.Context, connID string) (*identitydomain.Session, error) {
	if connID == "broken" {
		return nil, errors.New("db down")
	}
	return r[connID], nil
}

func search(id, term string) Wrapper {
	data, _ := json.Marshal(SearchRequest{Term: term})
	return Wrapper{IsQuery: true, QueryID: id, QueryPayload: Payload{Type: TypeSearch, Data: data}}
}

func decodeResponse(t *testing.T, env bus.Envelope) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(env.Payload, &resp))
	return resp
}

func TestDispatch_PublishesResponseToConnection(t *testing.T) {
	b, rec := bustest.Start(t, bus.NewMemoryCluster())
	bob := &identitydomain.Session{User: identitydomain.SessionUser{ID: 7}}
	h := &fakeHandlers{}
	d := NewDispatcher(h, fakeResolver{"conn-b": bob}, b, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, "conn-a", search("q-1", "ali")))
	require.NoError(t, d.Dispatch(ctx, "conn-b", search("q-2", "bo")))

	envs := rec.Envelopes()
	require.Len(t, envs, 2)
	require.Equal(t, bus.KindGroup, envs[0].Kind)
	require.Equal(t, "conn-a", envs[0].Group)
	require.Equal(t, "response_q-1", envs[0].Event)
	resp := decodeResponse(t, envs[0])
	require.Equal(t, "q-1", resp.QueryID)
	require.JSONEq(t, `["match:ali"]`, string(resp.Data))
	require.Nil(t, resp.Error)

	require.Equal(t, "conn-b", envs[1].Group)
	require.Equal(t, []*identitydomain.Session{nil, bob}, h.sessions)
}

func TestDispatch_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		wrapper  Wrapper
		handlers *fakeHandlers
		wantCode apierror.Code
		wantMsg  string
	}{
		{"unknown type", Wrapper{IsQuery: true, QueryID: "q", QueryPayload: Payload{Type: "nope"}}, &fakeHandlers{}, apierror.HandlerNotFound, "handler not found"},
		{"bad data", Wrapper{IsQuery: true, QueryID: "q", QueryPayload: Payload{Type: TypeSearch, Data: json.RawMessage(`[1]`)}}, &fakeHandlers{}, apierror.Unclassified, "internal error"},
		{"handler failure", search("q", "x"), &fakeHandlers{err: errors.New("pq: deadlock")}, apierror.Unclassified, "internal error"},
		{"classified failure", search("q", "x"), &fakeHandlers{err: apierror.New(apierror.ResourcePermissions)}, apierror.ResourcePermissions, "insufficient permissions for resource"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, rec := bustest.Start(t, bus.NewMemoryCluster())
			d := NewDispatcher(tc.handlers, fakeResolver{}, b, zerolog.Nop())
			require.NoError(t, d.Dispatch(context.Background(), "conn", tc.wrapper))

			envs := rec.Envelopes()
			require.Len(t, envs, 1)
			resp := decodeResponse(t, envs[0])
			require.NotNil(t, resp.Error)
			require.Equal(t, tc.wantCode, resp.Error.Code)
			require.Equal(t, tc.wantMsg, resp.Error.Message)
			require.Nil(t, resp.Data)
		})
	}
}

func TestDispatch_ResolverFailureIsAnonymous(t *testing.T) {
	b, rec := bustest.Start(t, bus.NewMemoryCluster())
	h := &fakeHandlers{}
	d := NewDispatcher(h, fakeResolver{}, b, zerolog.Nop())

	require.NoError(t, d.Dispatch(context.Background(), "broken", search("q", "x")))
	require.Len(t, rec.Events("response_q"), 1)
	require.Equal(t, []*identitydomain.Session{nil}, h.sessions)
}
