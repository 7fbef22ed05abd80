package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/testerhub/internal/profile"
)

func TestIdentityCodec(t *testing.T) {
	avatar := "https://cdn.example/a.png"
	raw, err := encodeIdentity(profile.Identity{UID: "u1", Username: "alice", AvatarURL: &avatar, Found: true})
	require.NoError(t, err)

	id, err := decodeIdentity(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UID)
	assert.Equal(t, "alice", id.Username)
	assert.True(t, id.Found)
	require.NotNil(t, id.AvatarURL)
	assert.Equal(t, avatar, *id.AvatarURL)

	_, err = decodeIdentity([]byte("{"))
	assert.Error(t, err)
}

// Runs against a real server when TEST_REDIS_ADDR is set.
func TestStore_IdentityRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	s := New(addr, "", 0)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	uid := "test-" + time.Now().Format("150405.000000")
	_, err := s.GetIdentity(ctx, uid)
	assert.True(t, errors.Is(err, profile.ErrCacheMiss))

	require.NoError(t, s.SetIdentity(ctx, profile.Identity{UID: uid, Username: "tmp", Found: true}, time.Minute))
	id, err := s.GetIdentity(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "tmp", id.Username)

	require.NoError(t, s.DeleteIdentity(ctx, uid))
	_, err = s.GetIdentity(ctx, uid)
	assert.True(t, errors.Is(err, profile.ErrCacheMiss))
}
