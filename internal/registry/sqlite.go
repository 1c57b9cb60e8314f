package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver
)

// SQLiteRepository stores records in a SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(path string, busyTimeout time.Duration) (*SQLiteRepository, error) {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return repo, nil
}

func (s *SQLiteRepository) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS streams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_streams_created_at ON streams(created_at);
	`)
	return err
}

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `SELECT id, name, url, description, is_active, created_at FROM streams`

// List implements Repository.List.
func (s *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get implements Repository.Get.
func (s *SQLiteRepository) Get(ctx context.Context, id string) (Record, error) {
	return s.get(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteRepository) get(ctx context.Context, q queryer, id string) (Record, error) {
	r, err := scanRecord(q.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

// Create implements Repository.Create.
func (s *SQLiteRepository) Create(ctx context.Context, r Record) (Record, error) {
	r, err := normalize(r)
	if err != nil {
		return Record{}, err
	}
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO streams (id, name, url, description, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.URL, r.Description, r.IsActive, r.CreatedAt.Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, duplicateURL(r.URL)
		}
		return Record{}, fmt.Errorf("insert stream: %w", err)
	}
	return r, nil
}

// Update implements Repository.Update.
func (s *SQLiteRepository) Update(ctx context.Context, id string, f Fields) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := s.get(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	next, err := normalize(f.Apply(cur))
	if err != nil {
		return Record{}, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE streams SET name = ?, url = ?, description = ?, is_active = ? WHERE id = ?`,
		next.Name, next.URL, next.Description, next.IsActive, id)
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, duplicateURL(next.URL)
		}
		return Record{}, fmt.Errorf("update stream: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// Delete implements Repository.Delete.
func (s *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM streams WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close implements Repository.Close.
func (s *SQLiteRepository) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r       Record
		created string
	)
	if err := sc.Scan(&r.ID, &r.Name, &r.URL, &r.Description, &r.IsActive, &created); err != nil {
		return Record{}, err
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	r.CreatedAt = t
	return r, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
