package db

import (
	"io"
	"log"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/testerhub/internal/chat"
	"github.com/suPer8Hu/testerhub/internal/profile"
)

// Dialector picks the gorm driver from the DSN:
//   - postgres://... or postgresql://...  (also "+pgx"/"+asyncpg" variants)
//   - sqlite:path or sqlite::memory:
//   - anything else is handed to the MySQL driver
func Dialector(dsn string) gorm.Dialector {
	s := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(s, "sqlite:"):
		return gormsqlite.Open(strings.TrimPrefix(s, "sqlite:"))
	case strings.HasPrefix(s, "postgres"):
		return postgres.Open(normalizePostgresDSN(s))
	default:
		return mysql.Open(s)
	}
}

// newGormLogger reports slow queries and failures to w. Record-not-found is
// an expected outcome on lookup paths and is not logged.
func newGormLogger(w io.Writer) logger.Interface {
	return logger.New(log.New(w, "[gorm] ", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Connect opens the database and verifies the connection with a ping.
func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(Dialector(dsn), &gorm.Config{
		Logger: newGormLogger(jww.WARN.Writer()),
	})
	if err != nil {
		return nil, errors.Wrap(err, "db: open")
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "db: handle")
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(60 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "db: ping")
	}
	jww.INFO.Printf("db connected dialect=%s", gdb.Dialector.Name())
	return gdb, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(profile.Models()...); err != nil {
		return errors.Wrap(err, "db: migrate profiles")
	}
	if err := gdb.AutoMigrate(chat.Models()...); err != nil {
		return errors.Wrap(err, "db: migrate chat")
	}
	return nil
}

// normalizePostgresDSN converts driver-suffixed DSNs found in .env files
// of other ecosystems to one pgx understands.
func normalizePostgresDSN(dsn string) string {
	s := dsn
	s = strings.Replace(s, "postgresql+asyncpg://", "postgresql://", 1)
	s = strings.Replace(s, "postgres+asyncpg://", "postgres://", 1)
	s = strings.Replace(s, "postgresql+pgx://", "postgresql://", 1)
	s = strings.Replace(s, "postgres+pgx://", "postgres://", 1)
	return s
}
