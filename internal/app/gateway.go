package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attempt-ledger/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// sharedQueryTimeout bounds a collapsed query scan.
const sharedQueryTimeout = 30 * time.Second

// Scope decides which records a query may see.
type Scope int

const (
	// ScopeSelf binds the query to the calling user.
	ScopeSelf Scope = iota
	// ScopeAdmin allows any user; authorization happens upstream.
	ScopeAdmin
)

func (s Scope) String() string {
	if s == ScopeAdmin {
		return "admin"
	}
	return "self"
}

// Query is a request for grouped attempt rows.
type Query struct {
	Scope Scope
	// UserID is the caller; required for ScopeSelf.
	UserID  string
	Filters domain.Filters
}

// QueryGateway serves filtered, grouped views of the ledger. It holds no
// per-request state and is safe for concurrent use.
type QueryGateway struct {
	store RecordStore
	users UserDirectory
	sf    singleflight.Group
}

func NewQueryGateway(store RecordStore, users UserDirectory) *QueryGateway {
	return &QueryGateway{store: store, users: users}
}

// Query returns attempt rows for q, ordered for its scope.
func (g *QueryGateway) Query(ctx context.Context, q Query) ([]domain.AttemptView, error) {
	switch q.Scope {
	case ScopeSelf:
		if q.UserID == "" {
			return nil, domain.Invalid("user_id", "required")
		}
		if q.Filters.Username != "" {
			return nil, domain.Invalid("username", "not allowed for self queries")
		}
	case ScopeAdmin:
	default:
		return nil, domain.Invalid("scope", "unknown")
	}

	// Identical concurrent dashboard queries share one store scan. The scan
	// outlives any single caller, so it runs detached from ctx with its own
	// deadline and each caller waits on its own ctx.
	ch := g.sf.DoChan(queryKey(q), func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedQueryTimeout)
		defer cancel()
		return g.run(runCtx, q)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneViews(res.Val.([]domain.AttemptView)), nil
	}
}

func (g *QueryGateway) run(ctx context.Context, q Query) ([]domain.AttemptView, error) {
	filter := domain.RecordFilter{
		UserID:     q.UserID,
		TestNumber: q.Filters.TestNumber,
		Window:     q.Filters.Window,
	}

	if q.Scope == ScopeSelf {
		records, err := g.store.Find(ctx, filter)
		if err != nil {
			return nil, err
		}
		views := Group(records)
		if q.Filters.ApprovedOnly {
			views = FilterApproved(views)
		}
		SortSelf(views)
		return views, nil
	}

	filter.UserID = ""
	if q.Filters.Username != "" {
		user, err := g.users.GetUserByName(ctx, q.Filters.Username)
		if errors.Is(err, domain.ErrNotFound) {
			return []domain.AttemptView{}, nil
		}
		if err != nil {
			return nil, err
		}
		filter.UserID = user.ID
	}

	records, err := g.store.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := Group(records)
	if err := g.decorate(ctx, views); err != nil {
		return nil, err
	}
	SortAdmin(views)
	if q.Filters.ApprovedOnly {
		views = FilterApproved(views)
	}
	return views, nil
}

// Detail returns the approved attempts of one user, by test then attempt.
func (g *QueryGateway) Detail(ctx context.Context, username string, filters domain.Filters) ([]domain.AttemptView, error) {
	if username == "" {
		return nil, domain.Invalid("username", "required")
	}
	user, err := g.users.GetUserByName(ctx, username)
	if err != nil {
		return nil, err
	}

	records, err := g.store.Find(ctx, domain.RecordFilter{
		UserID:     user.ID,
		TestNumber: filters.TestNumber,
		Window:     filters.Window,
	})
	if err != nil {
		return nil, err
	}
	views := FilterApproved(Group(records))
	for i := range views {
		applyProfile(&views[i], user)
	}
	SortDetail(views)
	return views, nil
}

func (g *QueryGateway) decorate(ctx context.Context, views []domain.AttemptView) error {
	profiles := make(map[string]domain.User)
	for i := range views {
		id := views[i].UserID
		user, seen := profiles[id]
		if !seen {
			var err error
			user, err = g.users.GetUser(ctx, id)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				log.Warn().Str("user_id", id).Msg("round records reference an unknown user")
				user = domain.User{ID: id}
			case err != nil:
				return err
			}
			profiles[id] = user
		}
		applyProfile(&views[i], user)
	}
	return nil
}

func applyProfile(v *domain.AttemptView, u domain.User) {
	v.Username = u.Username
	v.Age = u.Age
	v.Sex = u.Sex
}

func queryKey(q Query) string {
	window := ""
	if q.Filters.Window != nil {
		window = q.Filters.Window.Start.UTC().Format("2006-01-02T15:04:05.999999999")
	}
	return fmt.Sprintf("%s|%s|%s|%d|%s|%t", q.Scope, q.UserID, q.Filters.Username, q.Filters.TestNumber, window, q.Filters.ApprovedOnly)
}

func cloneViews(in []domain.AttemptView) []domain.AttemptView {
	out := make([]domain.AttemptView, len(in))
	copy(out, in)
	return out
}
