package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/testerhub/internal/profile"
)

const identityKeyPrefix = "testerhub:profile:identity:"

// Store wraps the shared Redis client. It serves as the profile identity
// cache; the realtime broker reuses Client().
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewFromClient(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.rdb.Close() }

var _ profile.Cache = (*Store)(nil)

func identityKey(uid string) string { return identityKeyPrefix + uid }

func (s *Store) GetIdentity(ctx context.Context, uid string) (profile.Identity, error) {
	raw, err := s.rdb.Get(ctx, identityKey(uid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return profile.Identity{}, profile.ErrCacheMiss
		}
		return profile.Identity{}, errors.Wrap(err, "redis get identity")
	}
	return decodeIdentity(raw)
}

func (s *Store) SetIdentity(ctx context.Context, id profile.Identity, ttl time.Duration) error {
	raw, err := encodeIdentity(id)
	if err != nil {
		return err
	}
	return errors.Wrap(s.rdb.Set(ctx, identityKey(id.UID), raw, ttl).Err(), "redis set identity")
}

func (s *Store) DeleteIdentity(ctx context.Context, uid string) error {
	return errors.Wrap(s.rdb.Del(ctx, identityKey(uid)).Err(), "redis del identity")
}

type cachedIdentity struct {
	UID       string  `json:"uid"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

func encodeIdentity(id profile.Identity) ([]byte, error) {
	raw, err := json.Marshal(cachedIdentity{UID: id.UID, Username: id.Username, AvatarURL: id.AvatarURL})
	return raw, errors.Wrap(err, "encode identity")
}

// decodeIdentity only ever sees identities of existing profiles.
func decodeIdentity(raw []byte) (profile.Identity, error) {
	var c cachedIdentity
	if err := json.Unmarshal(raw, &c); err != nil {
		return profile.Identity{}, errors.Wrap(err, "decode identity")
	}
	return profile.Identity{UID: c.UID, Username: c.Username, AvatarURL: c.AvatarURL, Found: true}, nil
}
