// Package sqldb persists reference assets and classification events through
// sqlx, on SQLite (modernc.org/sqlite) or PostgreSQL (pgx).
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
	"github.com/tjfontaine/polyglot-media-router/internal/storage/dialect"
)

// Store is a SQL implementation of ports.StorageProvider that supports
// multiple database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.StorageProvider = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite opens (or creates) a SQLite database file.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initSchema() error {
	ts := s.dialect.TimestampType()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS reference_assets (
	user_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	uri TEXT NOT NULL,
	created_at ` + ts + ` NOT NULL,
	updated_at ` + ts + ` NOT NULL,
	PRIMARY KEY (user_id, tag)
)`,
		`CREATE TABLE IF NOT EXISTS classification_events (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	workflow_type TEXT NOT NULL,
	method TEXT NOT NULL,
	latency_ms BIGINT NOT NULL,
	cache_hit ` + s.dialect.BooleanType() + ` NOT NULL,
	used_fallback ` + s.dialect.BooleanType() + ` NOT NULL,
	circuit_state TEXT NOT NULL,
	reasoning TEXT NOT NULL,
	estimated_cost ` + s.dialect.FloatType() + ` NOT NULL,
	created_at ` + ts + ` NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_classification_events_created ON classification_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_classification_events_user ON classification_events(user_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// normalizeTag stores tags lowercase without the leading "@", matching how
// prompts mention them.
func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "@"))
}

type referenceRow struct {
	UserID    string    `db:"user_id"`
	Tag       string    `db:"tag"`
	URI       string    `db:"uri"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Lookup returns the asset the user stored under tag.
func (s *Store) Lookup(ctx context.Context, userID, tag string) (*domain.ReferenceAsset, error) {
	query := s.dialect.Rebind(`SELECT user_id, tag, uri, created_at, updated_at
	          FROM reference_assets WHERE user_id = ? AND tag = ?`)

	var row referenceRow
	err := s.db.GetContext(ctx, &row, query, userID, normalizeTag(tag))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReferenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up reference %s: %w", tag, err)
	}
	return &domain.ReferenceAsset{URI: row.URI, Tag: row.Tag}, nil
}

// Put creates or replaces the asset stored under asset.Tag.
func (s *Store) Put(ctx context.Context, userID string, asset *domain.ReferenceAsset) error {
	tag := normalizeTag(asset.Tag)
	switch {
	case userID == "":
		return errors.New("user id is required")
	case tag == "":
		return errors.New("reference tag is required")
	case domain.IsReservedTag(tag):
		return fmt.Errorf("tag @%s is reserved", tag)
	case asset.URI == "":
		return errors.New("reference uri is required")
	}

	now := time.Now().UTC()
	query := s.dialect.Rebind(`INSERT INTO reference_assets (user_id, tag, uri, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?) ` + s.dialect.UpsertClause([]string{"user_id", "tag"}, []string{"uri", "updated_at"}))

	if _, err := s.db.ExecContext(ctx, query, userID, tag, asset.URI, now, now); err != nil {
		return fmt.Errorf("failed to store reference %s: %w", tag, err)
	}
	return nil
}

// ListReferences returns the user's stored assets ordered by tag.
func (s *Store) ListReferences(ctx context.Context, userID string) ([]*domain.ReferenceAsset, error) {
	query := s.dialect.Rebind(`SELECT user_id, tag, uri, created_at, updated_at
	          FROM reference_assets WHERE user_id = ? ORDER BY tag`)

	var rows []referenceRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}
	out := make([]*domain.ReferenceAsset, len(rows))
	for i, r := range rows {
		out[i] = &domain.ReferenceAsset{URI: r.URI, Tag: r.Tag}
	}
	return out, nil
}

// DeleteReference removes the asset under tag. Deleting a missing tag
// returns domain.ErrReferenceNotFound.
func (s *Store) DeleteReference(ctx context.Context, userID, tag string) error {
	query := s.dialect.Rebind(`DELETE FROM reference_assets WHERE user_id = ? AND tag = ?`)
	res, err := s.db.ExecContext(ctx, query, userID, normalizeTag(tag))
	if err != nil {
		return fmt.Errorf("failed to delete reference %s: %w", tag, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrReferenceNotFound
	}
	return nil
}

type eventRow struct {
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	WorkflowType  string    `db:"workflow_type"`
	Method        string    `db:"method"`
	LatencyMs     int64     `db:"latency_ms"`
	CacheHit      bool      `db:"cache_hit"`
	UsedFallback  bool      `db:"used_fallback"`
	CircuitState  string    `db:"circuit_state"`
	Reasoning     string    `db:"reasoning"`
	EstimatedCost float64   `db:"estimated_cost"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r eventRow) toDomain() *domain.ClassificationEvent {
	return &domain.ClassificationEvent{
		ID:            r.ID,
		UserID:        r.UserID,
		WorkflowType:  domain.WorkflowType(r.WorkflowType),
		Method:        domain.Method(r.Method),
		LatencyMs:     r.LatencyMs,
		CacheHit:      r.CacheHit,
		UsedFallback:  r.UsedFallback,
		CircuitState:  r.CircuitState,
		Reasoning:     r.Reasoning,
		EstimatedCost: r.EstimatedCost,
		CreatedAt:     r.CreatedAt,
	}
}

// SaveEvent inserts one classification event. Saving the same id twice is a no-op.
func (s *Store) SaveEvent(ctx context.Context, ev *domain.ClassificationEvent) error {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := eventRow{
		ID:            ev.ID,
		UserID:        ev.UserID,
		WorkflowType:  string(ev.WorkflowType),
		Method:        string(ev.Method),
		LatencyMs:     ev.LatencyMs,
		CacheHit:      ev.CacheHit,
		UsedFallback:  ev.UsedFallback,
		CircuitState:  ev.CircuitState,
		Reasoning:     ev.Reasoning,
		EstimatedCost: ev.EstimatedCost,
		CreatedAt:     createdAt.UTC(),
	}

	query := s.dialect.Rebind(`INSERT INTO classification_events
	          (id, user_id, workflow_type, method, latency_ms, cache_hit, used_fallback, circuit_state, reasoning, estimated_cost, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ` + s.dialect.UpsertClause([]string{"id"}, nil))

	_, err := s.db.ExecContext(ctx, query,
		row.ID, row.UserID, row.WorkflowType, row.Method, row.LatencyMs, row.CacheHit,
		row.UsedFallback, row.CircuitState, row.Reasoning, row.EstimatedCost, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save classification event: %w", err)
	}
	return nil
}

// ListEvents returns up to limit events, newest first.
func (s *Store) ListEvents(ctx context.Context, userID string, limit int) ([]*domain.ClassificationEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, user_id, workflow_type, method, latency_ms, cache_hit, used_fallback,
	          circuit_state, reasoning, estimated_cost, created_at FROM classification_events`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list classification events: %w", err)
	}

	out := make([]*domain.ClassificationEvent, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// PruneEvents deletes events older than cutoff.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.dialect.Rebind(`DELETE FROM classification_events WHERE created_at < ?`)
	res, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune classification events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
