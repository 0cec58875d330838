// Package sqlite implements store.Store on an embedded SQLite database using
// gorm with the pure-Go modernc driver. The schema is managed by goose
// migrations embedded in the binary.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/getmockd/hookd/pkg/logging"
	"github.com/getmockd/hookd/pkg/store"
)

// Store is a SQLite-backed store.Store.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn(path),
	}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY under
	// concurrent captures.
	sqlDB.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	s := &Store{
		db:  db,
		log: logging.Nop(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Debug("sqlite store opened", "path", path)
	return s, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *Store) Handlers() store.HandlerStore       { return &handlerStore{s} }
func (s *Store) Requests() store.RequestStore       { return &requestStore{s} }
func (s *Store) Connections() store.ConnectionStore { return &connectionStore{s} }
func (s *Store) Executions() store.ExecutionStore   { return &executionStore{s} }
func (s *Store) State() store.StateStore            { return &stateStore{s} }

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && (errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed"))
}

// finalize runs a conditional terminal update and reports whether the row was
// missing or already past its running state.
func finalize(tx *gorm.DB, model any, id, runningStatus string, updates map[string]any) error {
	res := tx.Model(model).Where("id = ? AND status = ?", id, runningStatus).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := tx.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return store.ErrNotFound
	}
	return store.ErrAlreadyFinalized
}

func page(q *gorm.DB, limit, offset int) *gorm.DB {
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

func ctxDB(ctx context.Context, s *Store) *gorm.DB { return s.db.WithContext(ctx) }
