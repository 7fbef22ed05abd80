package profile

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// ErrCacheMiss is returned by Cache implementations when uid is not cached.
var ErrCacheMiss = errors.New("profile cache: miss")

// Cache is a shared identity cache, typically backed by Redis.
type Cache interface {
	GetIdentity(ctx context.Context, uid string) (Identity, error)
	SetIdentity(ctx context.Context, id Identity, ttl time.Duration) error
	DeleteIdentity(ctx context.Context, uid string) error
}

// Fallback selects how a missing or unreadable profile is rendered.
type Fallback int

const (
	// FallbackUser renders "User abcd" for missing profiles.
	FallbackUser Fallback = iota
	// FallbackDeveloper renders "Dev-abcd", used in developer-facing views.
	FallbackDeveloper
)

func (f Fallback) missing(uid string) string {
	short := uid
	if r := []rune(uid); len(r) > 4 {
		short = string(r[:4])
	}
	if f == FallbackDeveloper {
		return "Dev-" + short
	}
	return "User " + short
}

func (f Fallback) failed() string {
	if f == FallbackDeveloper {
		return "Unknown Dev"
	}
	return "Error loading"
}

// Lookup resolves user ids to display identities. It never fails: missing
// profiles and read errors both degrade to a synthesized identity.
type Lookup struct {
	repo  *Repo
	cache Cache
	ttl   time.Duration
}

// NewLookup builds a Lookup. cache may be nil.
func NewLookup(repo *Repo, cache Cache, ttl time.Duration) *Lookup {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lookup{repo: repo, cache: cache, ttl: ttl}
}

func (l *Lookup) Resolve(ctx context.Context, uid string) Identity {
	id, _ := l.resolve(ctx, uid, FallbackUser)
	return id
}

func (l *Lookup) ResolveAs(ctx context.Context, uid string, style Fallback) Identity {
	id, _ := l.resolve(ctx, uid, style)
	return id
}

// Invalidate drops uid from the shared cache after a profile change.
func (l *Lookup) Invalidate(ctx context.Context, uid string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.DeleteIdentity(ctx, uid); err != nil {
		jww.WARN.Printf("[profile] cache invalidate uid=%s err=%v", uid, err)
	}
}

// resolve reports whether the result is stable enough to memoize.
func (l *Lookup) resolve(ctx context.Context, uid string, style Fallback) (Identity, bool) {
	if uid == "" {
		return Identity{Username: style.failed()}, false
	}

	if l.cache != nil {
		id, err := l.cache.GetIdentity(ctx, uid)
		if err == nil {
			return id, true
		}
		if !errors.Is(err, ErrCacheMiss) {
			jww.WARN.Printf("[profile] cache get uid=%s err=%v", uid, err)
		}
	}

	p, err := l.repo.Get(ctx, uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{UID: uid, Username: style.missing(uid)}, true
		}
		jww.ERROR.Printf("[profile] lookup uid=%s err=%v", uid, err)
		return Identity{UID: uid, Username: style.failed()}, false
	}

	id := p.Identity()
	if l.cache != nil {
		if err := l.cache.SetIdentity(ctx, id, l.ttl); err != nil {
			jww.WARN.Printf("[profile] cache set uid=%s err=%v", uid, err)
		}
	}
	return id, true
}

// Session returns a Resolver whose results are shared for its lifetime.
// Create one per request or per rendered list.
func (l *Lookup) Session() *Resolver {
	return l.SessionAs(FallbackUser)
}

func (l *Lookup) SessionAs(style Fallback) *Resolver {
	return &Resolver{lookup: l, style: style, seen: make(map[string]Identity)}
}

// Resolver deduplicates lookups by uid: concurrent callers share one
// in-flight fetch and later callers reuse its result. Failed lookups are
// not memoized.
type Resolver struct {
	lookup *Lookup
	style  Fallback
	group  singleflight.Group

	mu   sync.Mutex
	seen map[string]Identity
}

func (r *Resolver) Resolve(ctx context.Context, uid string) Identity {
	r.mu.Lock()
	if id, ok := r.seen[uid]; ok {
		r.mu.Unlock()
		return id
	}
	r.mu.Unlock()

	v, _, _ := r.group.Do(uid, func() (any, error) {
		id, stable := r.lookup.resolve(ctx, uid, r.style)
		if stable {
			r.mu.Lock()
			r.seen[uid] = id
			r.mu.Unlock()
		}
		return id, nil
	})
	return v.(Identity)
}

// ResolveMany resolves uids concurrently. Duplicate ids are fetched once.
func (r *Resolver) ResolveMany(ctx context.Context, uids []string) map[string]Identity {
	out := make(map[string]Identity, len(uids))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, uid := range uids {
		mu.Lock()
		_, dup := out[uid]
		if !dup {
			out[uid] = Identity{}
		}
		mu.Unlock()
		if dup {
			continue
		}

		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			id := r.Resolve(ctx, uid)
			mu.Lock()
			out[uid] = id
			mu.Unlock()
		}(uid)
	}
	wg.Wait()
	return out
}
