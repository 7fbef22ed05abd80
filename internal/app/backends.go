package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/gorm"

	"github.com/suPer8Hu/testerhub/internal/config"
	"github.com/suPer8Hu/testerhub/internal/db"
	"github.com/suPer8Hu/testerhub/internal/profile"
	"github.com/suPer8Hu/testerhub/internal/realtime"
	"github.com/suPer8Hu/testerhub/internal/store/redisstore"
)

// Backends are the connections a binary holds open for its lifetime.
type Backends struct {
	DB     *gorm.DB
	Redis  *redisstore.Store // nil when Redis is unreachable and not required
	Broker realtime.Broker

	closers []func() error
}

// Open connects the database, Redis and the realtime broker selected by
// REALTIME_BACKEND. Redis is only mandatory for the redis backend; without
// it profile identities are not cached.
func Open(ctx context.Context, cfg config.Config) (*Backends, error) {
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	b := &Backends{DB: gdb}
	if sqlDB, err := gdb.DB(); err == nil {
		b.closers = append(b.closers, sqlDB.Close)
	}

	rs := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	pingErr := rs.Ping(pingCtx)
	cancel()

	switch {
	case pingErr == nil:
		b.Redis = rs
		b.closers = append(b.closers, rs.Close)
	case cfg.RealtimeBackend == "redis":
		_ = rs.Close()
		b.Close()
		return nil, errors.Wrap(pingErr, "redis required by REALTIME_BACKEND=redis")
	default:
		_ = rs.Close()
		jww.WARN.Printf("[app] redis unavailable, profile cache disabled addr=%s err=%v", cfg.RedisAddr, pingErr)
	}

	if cfg.RealtimeBackend == "redis" {
		rb := realtime.NewRedisBroker(b.Redis.Client(), "")
		if err := rb.Start(ctx); err != nil {
			b.Close()
			return nil, err
		}
		b.Broker = rb
		// runs before the redis client is closed
		b.closers = append([]func() error{rb.Close}, b.closers...)
	} else {
		b.Broker = realtime.NewHub()
	}
	jww.INFO.Printf("[app] realtime backend=%s", cfg.RealtimeBackend)
	return b, nil
}

// Cache returns the profile cache, or nil without Redis.
func (b *Backends) Cache() profile.Cache {
	if b.Redis == nil {
		return nil
	}
	return b.Redis
}

func (b *Backends) Close() {
	for _, c := range b.closers {
		if err := c(); err != nil {
			jww.WARN.Printf("[app] close: %v", err)
		}
	}
	b.closers = nil
}
