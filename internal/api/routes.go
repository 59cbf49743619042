package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/svenmapprio/menuet/internal/apierror"
	auditrepo "github.com/svenmapprio/menuet/internal/audit/repository"
	"github.com/svenmapprio/menuet/internal/bus"
	"github.com/svenmapprio/menuet/internal/enrichment"
	enrichmentdomain "github.com/svenmapprio/menuet/internal/enrichment/domain"
	enrichmentrepo "github.com/svenmapprio/menuet/internal/enrichment/repository"
	"github.com/svenmapprio/menuet/internal/gateway"
	userdomain "github.com/svenmapprio/menuet/internal/user/domain"
	userrepo "github.com/svenmapprio/menuet/internal/user/repository"
)

// route is one handler. auth routes reject anonymous callers; tx routes run in a transaction
// available as call.tx.
type route struct {
	auth bool
	tx   bool
	fn   func(ctx context.Context, c *call) (any, error)
}

func (s *Server) table() map[string]map[string]route {
	return map[string]map[string]route{
		"get": {
			"session":         {fn: s.getSession},
			"users":           {tx: true, fn: s.getUsers},
			"placeEnrichment": {tx: true, fn: s.getPlaceEnrichment},
			"activity":        {auth: true, tx: true, fn: s.getActivity},
		},
		"put": {
			"user":            {auth: true, tx: true, fn: s.putUser},
			"friend":          {auth: true, tx: true, fn: s.putFriend},
			"placeEnrichment": {auth: true, tx: true, fn: s.putPlaceEnrichment},
		},
		"delete": {
			"session":         {fn: s.deleteSession},
			"friend":          {auth: true, tx: true, fn: s.deleteFriend},
			"placeEnrichment": {auth: true, tx: true, fn: s.deletePlaceEnrichment},
		},
	}
}

type empty struct{}

// activityLimit is how many audit entries get/activity returns.
const activityLimit = 50

// getSession returns the caller's session, or null, and binds the caller's live connection to it.
func (s *Server) getSession(ctx context.Context, c *call) (any, error) {
	sess := SessionFromContext(ctx)
	if sess != nil {
		s.bindConnection(ctx, c.connID, sess)
	}
	return sess, nil
}

// deleteSession signs the caller out: the cookie is cleared and the live connection unbound. The
// OAuth session row is kept.
func (s *Server) deleteSession(ctx context.Context, c *call) (any, error) {
	s.opts.Cookies.ClearSession(c.w)
	if c.connID != "" {
		if err := gateway.Emit(ctx, s.bus, c.connID, gateway.SessionEmission{}); err != nil {
			s.log.Warn().Err(err).Str("connection_id", c.connID).Msg("emit sign-out")
		}
	}
	return empty{}, nil
}

type usersRequest struct {
	Term string `json:"term"`
}

func (s *Server) getUsers(ctx context.Context, c *call) (any, error) {
	var req usersRequest
	if err := c.decode(&req); err != nil {
		return nil, err
	}
	return userrepo.NewPostgresRepository(c.tx).Search(ctx, viewerID(ctx), req.Term)
}

type userRequest struct {
	Handle string `json:"handle"`
}

type userResponse struct {
	Handle string `json:"handle"`
}

// putUser changes the caller's handle. A taken handle gets the next free numeric suffix.
func (s *Server) putUser(ctx context.Context, c *call) (any, error) {
	var req userRequest
	if err := c.decode(&req); err != nil {
		return nil, err
	}
	if req.Handle == "" {
		return nil, apierror.Wrap(apierror.InvalidRequest, fmt.Errorf("empty handle"))
	}
	id := viewerID(ctx)
	users := userrepo.NewPostgresRepository(c.tx)
	u, err := users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apierror.New(apierror.ResourceNotFound)
	}
	if u.Handle == req.Handle {
		return userResponse{Handle: u.Handle}, nil
	}

	n, err := users.CountHandles(ctx, req.Handle)
	if err != nil {
		return nil, err
	}
	if inHandleFamily(req.Handle, u.Handle) {
		n--
	}
	u.Handle = userdomain.NextHandle(req.Handle, n)
	if err := users.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	if err := bus.MutationTx(ctx, s.bus, c.tx, gateway.UserGroup(id), bus.Key("session")); err != nil {
		return nil, err
	}
	return userResponse{Handle: u.Handle}, nil
}

// inHandleFamily reports whether handle is base or base followed by digits.
func inHandleFamily(base, handle string) bool {
	rest, ok := strings.CutPrefix(handle, base)
	if !ok {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type friendRequest struct {
	UserID int64 `json:"userId"`
}

func (s *Server) putFriend(ctx context.Context, c *call) (any, error) {
	return s.changeFriend(ctx, c, userrepo.Repository.AddFriend)
}

func (s *Server) deleteFriend(ctx context.Context, c *call) (any, error) {
	return s.changeFriend(ctx, c, userrepo.Repository.RemoveFriend)
}

// changeFriend applies op and invalidates the user lists of both sides.
func (s *Server) changeFriend(ctx context.Context, c *call, op func(userrepo.Repository, context.Context, int64, int64) error) (any, error) {
	var req friendRequest
	if err := c.decode(&req); err != nil {
		return nil, err
	}
	id := viewerID(ctx)
	users := userrepo.NewPostgresRepository(c.tx)
	other, err := users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if other == nil {
		return nil, apierror.Wrap(apierror.ResourceNotFound, fmt.Errorf("user %d", req.UserID))
	}
	if err := op(users, ctx, id, other.ID); err != nil {
		return nil, err
	}
	for _, uid := range []int64{id, other.ID} {
		if err := bus.MutationTx(ctx, s.bus, c.tx, gateway.UserGroup(uid), bus.Key("users")); err != nil {
			return nil, err
		}
	}
	return empty{}, nil
}

type placeRequest struct {
	PlaceID     int64  `json:"placeId"`
	Description string `json:"description"`
}

type placeResponse struct {
	PlaceID int64  `json:"placeId"`
	Status  string `json:"status"`
	TaskID  int64  `json:"taskId,omitempty"`
}

func (c *call) placeRequest() (placeRequest, error) {
	var req placeRequest
	if err := c.decode(&req); err != nil {
		return req, err
	}
	if req.PlaceID <= 0 {
		return req, apierror.Wrap(apierror.InvalidRequest, fmt.Errorf("placeId %d", req.PlaceID))
	}
	return req, nil
}

func (s *Server) getPlaceEnrichment(ctx context.Context, c *call) (any, error) {
	req, err := c.placeRequest()
	if err != nil {
		return nil, err
	}
	st, err := enrichmentrepo.NewPostgresRepository(c.tx).Status(ctx, req.PlaceID)
	if err != nil {
		return nil, err
	}
	if st == "" {
		return nil, apierror.New(apierror.ResourceNotFound)
	}
	return placeResponse{PlaceID: req.PlaceID, Status: string(st)}, nil
}

// putPlaceEnrichment queues enrichment for a place; a worker picks it up after commit.
func (s *Server) putPlaceEnrichment(ctx context.Context, c *call) (any, error) {
	req, err := c.placeRequest()
	if err != nil {
		return nil, err
	}
	t, err := enrichmentrepo.NewPostgresRepository(c.tx).Enqueue(ctx, req.PlaceID, req.Description, s.opts.EnrichmentMaxAttempts)
	if err != nil {
		return nil, err
	}
	if err := s.bus.BroadcastTx(ctx, c.tx, bus.EventMutation, enrichment.MutationKey(req.PlaceID)); err != nil {
		return nil, err
	}
	return placeResponse{PlaceID: req.PlaceID, Status: string(enrichmentdomain.StatusGenerating), TaskID: t.ID}, nil
}

// deletePlaceEnrichment marks the current enrichment stale.
func (s *Server) deletePlaceEnrichment(ctx context.Context, c *call) (any, error) {
	req, err := c.placeRequest()
	if err != nil {
		return nil, err
	}
	if err := enrichmentrepo.NewPostgresRepository(c.tx).MarkShouldRegenerate(ctx, req.PlaceID); err != nil {
		return nil, err
	}
	if err := s.bus.BroadcastTx(ctx, c.tx, bus.EventMutation, enrichment.MutationKey(req.PlaceID)); err != nil {
		return nil, err
	}
	return placeResponse{PlaceID: req.PlaceID, Status: string(enrichmentdomain.StatusShouldRegenerate)}, nil
}

// getActivity lists the caller's most recent audited mutations, newest first.
func (s *Server) getActivity(ctx context.Context, c *call) (any, error) {
	return auditrepo.NewPostgresRepository(c.tx).ListByUser(ctx, viewerID(ctx), activityLimit)
}
