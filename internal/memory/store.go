package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"researchbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.MemoryStore using SQLite. The id counter lives
// in memory_meta so deleted ids are never handed out again.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

func (s *SQLiteStore) Add(ctx context.Context, content, author string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin add: %w", err)
	}
	defer tx.Rollback()

	var id int
	if err := tx.QueryRowContext(ctx, `SELECT next_id FROM memory_meta WHERE id = 1`).Scan(&id); err != nil {
		return 0, fmt.Errorf("read next id: %w", err)
	}
	created := domain.NewStamp(s.now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, content, author, created) VALUES (?, ?, ?, ?)`,
		id, content, author, created.String(),
	); err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE memory_meta SET next_id = ? WHERE id = 1`, id+1); err != nil {
		return 0, fmt.Errorf("advance next id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit add: %w", err)
	}

	s.logger.Debug("memory added", "id", id, "author", author)
	return id, nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]domain.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, author, created, updated FROM memories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id int) (*domain.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, author, created, updated FROM memories WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id int, content string) (bool, error) {
	updated := domain.NewStamp(s.now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET content = ?, updated = ? WHERE id = ?`,
		content, updated.String(), id,
	)
	if err != nil {
		return false, fmt.Errorf("update memory %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete memory %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Import copies every entry of doc into the store keeping its id, and raises
// the counter to at least doc.NextID. Existing rows with the same id are replaced.
func (s *SQLiteStore) Import(ctx context.Context, doc Document) (int, error) {
	doc.normalize()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	for _, e := range doc.Memories {
		var updated sql.NullString
		if e.Updated != nil {
			updated = sql.NullString{String: e.Updated.String(), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO memories (id, content, author, created, updated) VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.Content, e.Author, e.Created.String(), updated,
		); err != nil {
			return 0, fmt.Errorf("import memory %d: %w", e.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_meta SET next_id = MAX(next_id, ?) WHERE id = 1`, doc.NextID,
	); err != nil {
		return 0, fmt.Errorf("raise next id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}

	s.logger.Info("memories imported", "count", len(doc.Memories), "next_id", doc.NextID)
	return len(doc.Memories), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.MemoryEntry, error) {
	var (
		e       domain.MemoryEntry
		created string
		updated sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Content, &e.Author, &created, &updated); err != nil {
		return nil, err
	}
	t, err := time.ParseInLocation(domain.StampLayout, created, time.Local)
	if err != nil {
		return nil, fmt.Errorf("memory %d: bad created stamp %q: %w", e.ID, created, err)
	}
	e.Created = domain.NewStamp(t)
	if updated.Valid {
		u, err := time.ParseInLocation(domain.StampLayout, updated.String, time.Local)
		if err != nil {
			return nil, fmt.Errorf("memory %d: bad updated stamp %q: %w", e.ID, updated.String, err)
		}
		stamp := domain.NewStamp(u)
		e.Updated = &stamp
	}
	return &e, nil
}
