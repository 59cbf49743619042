package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/svenmapprio/menuet/internal/bus"
	identitydomain "github.com/svenmapprio/menuet/internal/identity/domain"
)

// EventEmission is the frame and envelope event carrying an EmissionWrapper.
const EventEmission = "emission"

// EmissionType tags an Emission on the wire.
type EmissionType string

const (
	EmissionSession         EmissionType = "session"
	EmissionGroupJoin       EmissionType = "groupJoin"
	EmissionConnectionCheck EmissionType = "connectionCheck"
)

// ErrUnknownEmission is returned when decoding an emission of an unknown type.
var ErrUnknownEmission = errors.New("gateway: unknown emission type")

// Emission is a server-to-connection message that may also change the connection's state.
// The set of variants is closed.
type Emission interface {
	emissionType() EmissionType
}

// SessionEmission (re)binds the connection to Session's user, or unbinds it when Session is nil.
type SessionEmission struct {
	Session *identitydomain.Session
}

// GroupJoinEmission adds the connection to GroupName(GroupID).
type GroupJoinEmission struct {
	GroupID int64 `json:"groupId"`
}

// ConnectionCheckEmission has no effect beyond reaching the client.
type ConnectionCheckEmission struct{}

func (SessionEmission) emissionType() EmissionType         { return EmissionSession }
func (GroupJoinEmission) emissionType() EmissionType       { return EmissionGroupJoin }
func (ConnectionCheckEmission) emissionType() EmissionType { return EmissionConnectionCheck }

// EmissionPayload is the tagged body of an emission.
type EmissionPayload struct {
	Type EmissionType    `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EmissionWrapper is what clients receive as the data of an "emission" frame.
type EmissionWrapper struct {
	IsEmission      bool            `json:"isEmission"`
	SocketID        string          `json:"socketId"`
	EmissionPayload EmissionPayload `json:"emissionPayload"`
}

// UserGroup is the identity group of a bound user; every connection bound to the user is in it.
func UserGroup(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// GroupName is the group a GroupJoinEmission adds a connection to.
func GroupName(groupID int64) string {
	return "group_" + strconv.FormatInt(groupID, 10)
}

// Wrap encodes e for socketID.
func Wrap(socketID string, e Emission) (EmissionWrapper, error) {
	var (
		data []byte
		err  error
	)
	switch v := e.(type) {
	case SessionEmission:
		data, err = json.Marshal(v.Session)
	case GroupJoinEmission:
		data, err = json.Marshal(v)
	case ConnectionCheckEmission:
		data = []byte("{}")
	default:
		return EmissionWrapper{}, ErrUnknownEmission
	}
	if err != nil {
		return EmissionWrapper{}, fmt.Errorf("gateway: encode emission: %w", err)
	}
	return EmissionWrapper{
		IsEmission:      true,
		SocketID:        socketID,
		EmissionPayload: EmissionPayload{Type: e.emissionType(), Data: data},
	}, nil
}

// Emit publishes e to the connection socketID wherever it is held. Stateless processes use it
// to reach a live connection they only know by its socketId cookie.
func Emit(ctx context.Context, p bus.Publisher, socketID string, e Emission) error {
	if socketID == "" {
		return errors.New("gateway: socket id is required")
	}
	w, err := Wrap(socketID, e)
	if err != nil {
		return err
	}
	return p.Publish(ctx, socketID, EventEmission, w)
}

func decodeEmission(p EmissionPayload) (Emission, error) {
	switch p.Type {
	case EmissionSession:
		var s *identitydomain.Session
		if len(p.Data) > 0 {
			if err := json.Unmarshal(p.Data, &s); err != nil {
				return nil, fmt.Errorf("gateway: decode session emission: %w", err)
			}
		}
		return SessionEmission{Session: s}, nil
	case EmissionGroupJoin:
		var g GroupJoinEmission
		if err := json.Unmarshal(p.Data, &g); err != nil {
			return nil, fmt.Errorf("gateway: decode groupJoin emission: %w", err)
		}
		return g, nil
	case EmissionConnectionCheck:
		return ConnectionCheckEmission{}, nil
	default:
		return nil, ErrUnknownEmission
	}
}
