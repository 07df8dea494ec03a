// Package sqldb implements the durable LifetimeStore on database/sql.
package sqldb

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
	"github.com/tjfontaine/hass-matrix-gateway/internal/storage/dialect"
)

// Store is a SQL implementation of ports.LifetimeStore that supports
// multiple database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.LifetimeStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres, pgx
	DSN    string // Data source name / connection string
}

// lifetimeRow is the lifetime_ends row layout.
type lifetimeRow struct {
	ID      int64     `db:"id"`
	EndDate time.Time `db:"end_date"`
	RoomID  string    `db:"room_id"`
	EventID string    `db:"event_id"`
}

func (r lifetimeRow) toDomain() domain.LifetimeEnd {
	return domain.LifetimeEnd{
		ID:      r.ID,
		EndDate: r.EndDate.UTC(),
		RoomID:  r.RoomID,
		EventID: r.EventID,
	}
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	if d.Name() == string(dialect.SQLite) {
		if err := ensureDir(cfg.DSN); err != nil {
			return nil, err
		}
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

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// ensureDir creates the parent directory of a plain SQLite file path.
func ensureDir(dsn string) error {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func (s *Store) initSchema() error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS lifetime_ends (
id %s,
end_date %s NOT NULL,
room_id VARCHAR(255) NOT NULL,
event_id VARCHAR(255) NOT NULL
)`, s.dialect.AutoIncrementClause(), s.dialect.TimestampType()),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_lifetime_ends_event ON lifetime_ends(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_lifetime_ends_end_date ON lifetime_ends(end_date)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Insert stores end and assigns its ID. Scheduling the same event twice
// replaces the earlier schedule.
func (s *Store) Insert(ctx context.Context, end *domain.LifetimeEnd) error {
	endDate := end.EndDate.UTC()
	query := s.dialect.Rebind(`INSERT INTO lifetime_ends (end_date, room_id, event_id)
	          VALUES (?, ?, ?) ` +
		s.dialect.UpsertClause("event_id", []string{"end_date", "room_id"}) +
		` RETURNING id`)

	var id int64
	if err := s.db.QueryRowxContext(ctx, query, endDate, end.RoomID, end.EventID).Scan(&id); err != nil {
		return fmt.Errorf("failed to insert lifetime end: %w", err)
	}

	end.ID = id
	end.EndDate = endDate
	return nil
}

// ExpiringBefore yields every record with end_date < t. The result set is
// read fully before the first yield so callers may Remove while iterating.
func (s *Store) ExpiringBefore(ctx context.Context, t time.Time) iter.Seq2[domain.LifetimeEnd, error] {
	return func(yield func(domain.LifetimeEnd, error) bool) {
		query := s.dialect.Rebind(`SELECT id, end_date, room_id, event_id
		          FROM lifetime_ends WHERE end_date < ?
		          ORDER BY end_date ASC, id ASC`)

		var rows []lifetimeRow
		if err := s.db.SelectContext(ctx, &rows, query, t.UTC()); err != nil {
			yield(domain.LifetimeEnd{}, fmt.Errorf("failed to query lifetime ends: %w", err))
			return
		}

		for _, row := range rows {
			if !yield(row.toDomain(), nil) {
				return
			}
		}
	}
}

// Remove deletes the record for eventID. Removing an absent event id is a
// no-op.
func (s *Store) Remove(ctx context.Context, eventID string) error {
	query := s.dialect.Rebind(`DELETE FROM lifetime_ends WHERE event_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, eventID); err != nil {
		return fmt.Errorf("failed to remove lifetime end: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
