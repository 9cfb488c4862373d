package redis

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"attempt-ledger/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// UserLoader fetches profiles from the identity store.
type UserLoader interface {
	LoadUser(ctx context.Context, userID string) (domain.User, error)
	LoadUserByName(ctx context.Context, username string) (domain.User, error)
}

// UserDirectory caches profiles in Redis and falls back to a loader on miss.
// Profiles are stored as:    HSET user:{id} username {name} age {age} sex {sex}
// Usernames are indexed as:  SET  user:name:{name} {id}
type UserDirectory struct {
	client *redis.Client
	loader UserLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewUserDirectory(client *redis.Client, loader UserLoader, ttl time.Duration) *UserDirectory {
	return &UserDirectory{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *UserDirectory) GetUser(ctx context.Context, userID string) (domain.User, error) {
	if u, ok := d.fromCache(ctx, userID); ok {
		return u, nil
	}
	result, err, _ := d.sf.Do("id:"+userID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if u, ok := d.fromCache(ctx, userID); ok {
			return u, nil
		}
		u, err := d.loader.LoadUser(ctx, userID)
		if err != nil {
			return domain.User{}, err
		}
		d.fill(ctx, u)
		return u, nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return result.(domain.User), nil
}

func (d *UserDirectory) GetUserByName(ctx context.Context, username string) (domain.User, error) {
	if id, err := d.client.Get(ctx, nameKey(username)).Result(); err == nil {
		if u, ok := d.fromCache(ctx, id); ok && u.Username == username {
			return u, nil
		}
	}
	result, err, _ := d.sf.Do("name:"+username, func() (interface{}, error) {
		u, err := d.loader.LoadUserByName(ctx, username)
		if err != nil {
			return domain.User{}, err
		}
		d.fill(ctx, u)
		return u, nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return result.(domain.User), nil
}

func (d *UserDirectory) fromCache(ctx context.Context, userID string) (domain.User, bool) {
	fields, err := d.client.HGetAll(ctx, userKey(userID)).Result()
	if err != nil || len(fields) == 0 {
		return domain.User{}, false
	}
	u := domain.User{ID: userID, Username: fields["username"], Sex: fields["sex"]}
	if raw, ok := fields["age"]; ok && raw != "" {
		if a, err := strconv.Atoi(raw); err == nil {
			u.Age = &a
		}
	}
	return u, true
}

// fill is best effort; a failed cache write only costs a later reload.
func (d *UserDirectory) fill(ctx context.Context, u domain.User) {
	age := ""
	if u.Age != nil {
		age = strconv.Itoa(*u.Age)
	}
	ttl := d.ttlWithJitter()
	pipe := d.client.Pipeline()
	pipe.HSet(ctx, userKey(u.ID), "username", u.Username, "age", age, "sex", u.Sex)
	pipe.Set(ctx, nameKey(u.Username), u.ID, ttl)
	if ttl > 0 {
		pipe.Expire(ctx, userKey(u.ID), ttl)
	}
	_, _ = pipe.Exec(ctx)
}

func (d *UserDirectory) ttlWithJitter() time.Duration {
	if d.ttl <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	jitterMax := int64(d.ttl) / 10
	return d.ttl + time.Duration(d.rnd.Int63n(jitterMax+1))
}

func userKey(userID string) string {
	return "user:" + userID
}

func nameKey(username string) string {
	return "user:name:" + username
}
