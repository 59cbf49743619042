// Package query emulates request/response over the push connection: a client query carries a
// single-use id and its one response is published to the originating connection's group.
package query

import (
	"encoding/json"

	"github.com/svenmapprio/menuet/internal/apierror"
)

// Frame is the unit written to and read from a websocket connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame event names.
const (
	// EventQuery carries a Wrapper from client to server.
	EventQuery = "query"
	// EventConnect is the first frame a client receives; its data is the connection id.
	EventConnect = "connect"
)

// ResponseEvent names the one-shot event a query's response is delivered on.
func ResponseEvent(queryID string) string {
	return "response_" + queryID
}

// Payload is the typed body of a query.
type Payload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Wrapper is the query request frame: {isQuery, queryId, queryPayload:{type, data}}.
type Wrapper struct {
	IsQuery      bool    `json:"isQuery"`
	QueryID      string  `json:"queryId"`
	QueryPayload Payload `json:"queryPayload"`
}

// Response answers exactly one Wrapper. Exactly one of Data and Error is set.
type Response struct {
	QueryID string            `json:"queryId"`
	Data    json.RawMessage   `json:"data,omitempty"`
	Error   *apierror.Payload `json:"error,omitempty"`
}

// ErrorResponse builds the response for a failed query.
func ErrorResponse(queryID string, err error) Response {
	return Response{QueryID: queryID, Error: apierror.From(err).Payload()}
}
