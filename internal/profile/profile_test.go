package profile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type memCache struct {
	mu   sync.Mutex
	data map[string]Identity
	gets int32
}

func newMemCache() *memCache { return &memCache{data: map[string]Identity{}} }

func (c *memCache) GetIdentity(_ context.Context, uid string) (Identity, error) {
	atomic.AddInt32(&c.gets, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.data[uid]
	if !ok {
		return Identity{}, ErrCacheMiss
	}
	return id, nil
}

func (c *memCache) SetIdentity(_ context.Context, id Identity, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id.UID] = id
	return nil
}

func (c *memCache) DeleteIdentity(_ context.Context, uid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, uid)
	return nil
}

func TestRegister_NormalizesAndRejectsDuplicates(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepo(db), nil)
	ctx := context.Background()

	p, err := svc.Register(ctx, RegisterInput{Username: "  Alice.Dev ", Password: "secret1", Role: RoleDeveloper})
	require.NoError(t, err)
	assert.Equal(t, "alice.dev", p.Username)
	assert.NotEmpty(t, p.UID)

	_, err = svc.Register(ctx, RegisterInput{Username: "ALICE.DEV", Password: "secret2", Role: RoleTester})
	assert.True(t, errors.Is(err, ErrUsernameTaken), "got %v", err)

	_, err = svc.Register(ctx, RegisterInput{Username: "bob", Password: "secret1", Role: "admin"})
	assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
}

func TestAuthenticate(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepo(db), nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Username: "carol", Password: "secret1", Role: RoleTester})
	require.NoError(t, err)

	p, err := svc.Authenticate(ctx, "Carol", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "carol", p.Username)

	_, err = svc.Authenticate(ctx, "carol", "nope")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	_, err = svc.Authenticate(ctx, "nobody", "secret1")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestUpdateProfile_InvalidatesCache(t *testing.T) {
	db := openTestDB(t)
	cache := newMemCache()
	repo := NewRepo(db)
	lookup := NewLookup(repo, cache, time.Minute)
	svc := NewService(repo, lookup)
	ctx := context.Background()

	p, err := svc.Register(ctx, RegisterInput{Username: "dave", Password: "secret1", Role: RoleTester})
	require.NoError(t, err)

	require.Equal(t, "dave", lookup.Resolve(ctx, p.UID).Username)
	_, cached := cache.data[p.UID]
	require.True(t, cached)

	avatar := "https://cdn.example/dave.png"
	bio := "  qa on mobile  "
	skills := []string{"android", "ios"}
	updated, err := svc.UpdateProfile(ctx, p.UID, UpdateInput{AvatarURL: &avatar, Bio: &bio, Skills: &skills})
	require.NoError(t, err)
	assert.Equal(t, "qa on mobile", updated.Bio)

	_, cached = cache.data[p.UID]
	assert.False(t, cached, "expected cache entry to be invalidated")

	id := lookup.Resolve(ctx, p.UID)
	require.NotNil(t, id.AvatarURL)
	assert.Equal(t, avatar, *id.AvatarURL)

	reloaded, err := svc.Get(ctx, p.UID)
	require.NoError(t, err)
	assert.Equal(t, skills, reloaded.Skills)
}

func TestLookup_Fallbacks(t *testing.T) {
	db := openTestDB(t)
	lookup := NewLookup(NewRepo(db), nil, 0)
	ctx := context.Background()

	id := lookup.Resolve(ctx, "abcdef123")
	assert.False(t, id.Found)
	assert.Equal(t, "User abcd", id.Username)

	dev := lookup.ResolveAs(ctx, "abcdef123", FallbackDeveloper)
	assert.Equal(t, "Dev-abcd", dev.Username)

	short := lookup.Resolve(ctx, "ab")
	assert.Equal(t, "User ab", short.Username)

	wide := lookup.Resolve(ctx, "Ωμέγα-77")
	assert.Equal(t, "User Ωμέγ", wide.Username)
	assert.True(t, utf8.ValidString(wide.Username))

	// read errors are swallowed into a placeholder
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	broken := NewLookup(NewRepo(db), nil, 0)
	assert.Equal(t, "Error loading", broken.Resolve(ctx, "zzzz9999").Username)
	assert.Equal(t, "Unknown Dev", broken.ResolveAs(ctx, "zzzz9999", FallbackDeveloper).Username)
}

func TestResolver_DeduplicatesLookups(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	cache := newMemCache()
	lookup := NewLookup(repo, cache, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Profile{UID: "u1", Username: "one", Role: RoleTester, PasswordHash: "x"}))

	r := lookup.Session()
	ids := r.ResolveMany(ctx, []string{"u1", "u1", "u2", "u1", "u2"})
	require.Len(t, ids, 2)
	assert.Equal(t, "one", ids["u1"].Username)
	assert.Equal(t, "User u2", ids["u2"].Username)

	before := atomic.LoadInt32(&cache.gets)
	for i := 0; i < 10; i++ {
		r.Resolve(ctx, "u1")
		r.Resolve(ctx, "u2")
	}
	assert.Equal(t, before, atomic.LoadInt32(&cache.gets), "session should not hit the shared cache again")
}
