package query

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/svenmapprio/menuet/internal/apierror"
)

func TestWireShapes(t *testing.T) {
	g := goldie.New(t)
	testCases := []struct {
		name  string
		value any
	}{
		{"query_request", Wrapper{
			IsQuery:      true,
			QueryID:      "q-1",
			QueryPayload: Payload{Type: TypeSearch, Data: json.RawMessage(`{"term":"ali"}`)},
		}},
		{"query_response", Response{
			QueryID: "q-1",
			Data:    json.RawMessage(`[{"id":2,"handle":"alina","self":true,"other":false}]`),
		}},
		{"query_error_response", ErrorResponse("q-2", apierror.New(apierror.HandlerNotFound))},
		{"response_frame", Frame{
			Event: ResponseEvent("q-1"),
			Data:  json.RawMessage(`{"queryId":"q-1","data":[]}`),
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := json.Marshal(tc.value)
			require.NoError(t, err)
			g.Assert(t, tc.name, got)
		})
	}
}

func TestErrorResponse_HidesInternals(t *testing.T) {
	resp := ErrorResponse("q-3", assertErr("pq: relation \"secret\" does not exist"))
	require.Equal(t, apierror.Unclassified, resp.Error.Code)
	require.Equal(t, "internal error", resp.Error.Message)
	require.Nil(t, resp.Data)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
