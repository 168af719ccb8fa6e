// Package database persists records into one TimescaleDB table per
// project, created lazily on first sight.
package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/user/logfan"
	"github.com/user/logfan/pkg/diag"
)

// ErrNotConnected is returned by Write while the database is
// unreachable. The health-check timer owns reconnection; writes never
// dial on their own.
var ErrNotConnected = errors.New("database: not connected")

type Options struct {
	ConnString string

	// HealthCheckInterval defaults to 30 minutes.
	HealthCheckInterval time.Duration

	// Logger defaults to a no-op diagnostic logger.
	Logger logfan.Logger
}

// Sink inserts one row per record. A lost connection degrades the sink
// until the next health check re-establishes it.
type Sink struct {
	connString string
	logger     logfan.Logger
	cron       *cron.Cron

	mu     sync.Mutex
	pool   *pgxpool.Pool
	tables map[string]struct{}
}

func New(opts Options) *Sink {
	interval := opts.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = diag.Nop()
	}
	s := &Sink{
		connString: opts.ConnString,
		logger:     logger,
		cron:       cron.New(),
		tables:     make(map[string]struct{}),
	}
	s.cron.AddFunc("@every "+interval.String(), func() { s.healthCheck(context.Background()) })
	return s
}

// Start dials the database and arms the health-check timer. A failed
// initial dial is logged, not fatal: the sink stays up and returns
// ErrNotConnected from Write until a health check succeeds.
func (s *Sink) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		s.logger.Error("database connect failed", "error", err)
	}
	s.cron.Start()
	return nil
}

func (s *Sink) connect(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, s.connString)
	if err != nil {
		return fmt.Errorf("database: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("database: ping: %w", err)
	}

	s.mu.Lock()
	old := s.pool
	s.pool = pool
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	s.logger.Info("database connected")
	return nil
}

func (s *Sink) healthCheck(ctx context.Context) {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()

	if pool != nil {
		if err := pool.Ping(ctx); err == nil {
			return
		}
		s.logger.Warn("database health check failed, reconnecting")
		s.mu.Lock()
		if s.pool == pool {
			s.pool = nil
		}
		s.mu.Unlock()
		pool.Close()
	}
	if err := s.connect(ctx); err != nil {
		s.logger.Error("database reconnect failed", "error", err)
	}
}

// Write inserts the record into its project table, creating the table
// and its indexes the first time the project is seen.
func (s *Sink) Write(ctx context.Context, rec *logfan.Record) error {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool == nil {
		return ErrNotConnected
	}

	if err := s.ensureTable(ctx, pool, rec.Project); err != nil {
		return err
	}

	stmt, err := insertStmt(rec.Project)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	_, err = pool.Exec(ctx, stmt,
		string(rec.Level), rec.Timestamp, rec.Module, rec.Function, rec.Message, rec.Code)
	if err != nil {
		return fmt.Errorf("database: insert into %q: %w", rec.Project, err)
	}
	return nil
}

func (s *Sink) ensureTable(ctx context.Context, pool *pgxpool.Pool, project string) error {
	s.mu.Lock()
	_, known := s.tables[project]
	s.mu.Unlock()
	if known {
		return nil
	}

	table, err := createTableStmt(project)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if _, err := pool.Exec(ctx, table); err != nil {
		return fmt.Errorf("database: create table %q: %w", project, err)
	}
	indexes, err := createIndexStmts(project)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			return fmt.Errorf("database: create index on %q: %w", project, err)
		}
	}

	s.mu.Lock()
	s.tables[project] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("database table ready", "project", project)
	return nil
}

func (s *Sink) Ping(ctx context.Context) error {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool == nil {
		return ErrNotConnected
	}
	return pool.Ping(ctx)
}

func (s *Sink) Close(ctx context.Context) error {
	s.cron.Stop()
	s.mu.Lock()
	pool := s.pool
	s.pool = nil
	s.mu.Unlock()
	if pool != nil {
		pool.Close()
	}
	return nil
}
