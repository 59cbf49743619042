package query

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Query types.
const (
	TypeSearch = "search"
)

// ErrUnknownType is returned by Decode for a type no Request variant handles.
var ErrUnknownType = errors.New("query: unknown type")

// Request is a decoded query. The variants are closed: only this package implements it.
type Request interface {
	queryType() string
}

// SearchRequest lists users whose handle contains Term.
type SearchRequest struct {
	Term string `json:"term"`
}

func (SearchRequest) queryType() string { return TypeSearch }

// Decode parses p into its Request variant.
func Decode(p Payload) (Request, error) {
	switch p.Type {
	case TypeSearch:
		var r SearchRequest
		if err := unmarshalData(p.Data, &r); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, p.Type)
	}
}

// unmarshalData treats absent data as an empty object.
func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("query: decode data: %w", err)
	}
	return nil
}
