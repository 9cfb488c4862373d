package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"attempt-ledger/internal/domain"
	"golang.org/x/sync/singleflight"
)

// UserLoader fetches user profiles from the identity store.
type UserLoader interface {
	LoadUser(ctx context.Context, userID string) (domain.User, error)
	LoadUserByName(ctx context.Context, username string) (domain.User, error)
}

// UserDirectory caches profiles with TTL to avoid hitting the identity store
// for every rendered admin row.
type UserDirectory struct {
	loader UserLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu     sync.Mutex
	rnd    *rand.Rand
	byID   map[string]cachedUser
	byName map[string]cachedUser
}

type cachedUser struct {
	user      domain.User
	expiresAt time.Time
}

func NewUserDirectory(loader UserLoader, ttl time.Duration) *UserDirectory {
	return &UserDirectory{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		byID:   make(map[string]cachedUser),
		byName: make(map[string]cachedUser),
	}
}

func (d *UserDirectory) GetUser(ctx context.Context, userID string) (domain.User, error) {
	if u, ok := d.cached(d.byID, userID); ok {
		return u, nil
	}
	result, err, _ := d.sf.Do("id:"+userID, func() (interface{}, error) {
		if u, ok := d.cached(d.byID, userID); ok {
			return u, nil
		}
		u, err := d.loader.LoadUser(ctx, userID)
		if err != nil {
			return domain.User{}, err
		}
		d.store(u)
		return u, nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return result.(domain.User), nil
}

func (d *UserDirectory) GetUserByName(ctx context.Context, username string) (domain.User, error) {
	if u, ok := d.cached(d.byName, username); ok {
		return u, nil
	}
	result, err, _ := d.sf.Do("name:"+username, func() (interface{}, error) {
		if u, ok := d.cached(d.byName, username); ok {
			return u, nil
		}
		u, err := d.loader.LoadUserByName(ctx, username)
		if err != nil {
			return domain.User{}, err
		}
		d.store(u)
		return u, nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return result.(domain.User), nil
}

func (d *UserDirectory) cached(index map[string]cachedUser, key string) (domain.User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := index[key]
	if !ok || !entry.expiresAt.After(d.clock()) {
		return domain.User{}, false
	}
	return entry.user, true
}

func (d *UserDirectory) store(u domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry := cachedUser{user: u, expiresAt: d.clock().Add(d.ttlWithJitterLocked())}
	d.byID[u.ID] = entry
	d.byName[u.Username] = entry
}

func (d *UserDirectory) ttlWithJitterLocked() time.Duration {
	if d.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(d.ttl) / 10
	return d.ttl + time.Duration(d.rnd.Int63n(jitterMax+1))
}

// StaticUserLoader is a loader backed by an in-memory list (tests, demos, memory driver).
type StaticUserLoader struct {
	mu     sync.RWMutex
	byID   map[string]domain.User
	byName map[string]domain.User
}

func NewStaticUserLoader(users ...domain.User) *StaticUserLoader {
	l := &StaticUserLoader{
		byID:   make(map[string]domain.User),
		byName: make(map[string]domain.User),
	}
	for _, u := range users {
		l.Put(u)
	}
	return l
}

// Put adds or replaces a profile.
func (l *StaticUserLoader) Put(u domain.User) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID[u.ID] = u
	l.byName[u.Username] = u
}

func (l *StaticUserLoader) LoadUser(_ context.Context, userID string) (domain.User, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if u, ok := l.byID[userID]; ok {
		return u, nil
	}
	return domain.User{}, domain.ErrNotFound
}

func (l *StaticUserLoader) LoadUserByName(_ context.Context, username string) (domain.User, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if u, ok := l.byName[username]; ok {
		return u, nil
	}
	return domain.User{}, domain.ErrNotFound
}
