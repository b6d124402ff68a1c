package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperjump/docchat/internal/models"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Postgres error codes that mean the collection's structure is broken rather than unreachable.
var corruptionCodes = map[pq.ErrorCode]bool{
	"42P01": true, // undefined_table
	"42703": true, // undefined_column
	"22000": true, // data_exception (dimension mismatch)
	"XX001": true, // data_corrupted
	"XX002": true, // index_corrupted
}

// PGStore stores a collection as a pgvector table named after the collection.
type PGStore struct {
	db         *sql.DB
	table      string
	dimensions int
	ownsDB     bool
}

// NewPGStore opens a Postgres connection for the collection.
func NewPGStore(dsn, collection string, dimensions int) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s, err := NewPGStoreWithDB(db, collection, dimensions)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewPGStoreWithDB wraps an existing connection pool.
func NewPGStoreWithDB(db *sql.DB, collection string, dimensions int) (*PGStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if !identifierRe.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}
	return &PGStore{db: db, table: collection, dimensions: dimensions}, nil
}

// Type returns the backend identifier.
func (s *PGStore) Type() string {
	return string(BackendPGVector)
}

// Open creates the extension and table if needed.
func (s *PGStore) Open(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return s.wrap("create extension", err)
	}
	if _, err := s.db.ExecContext(ctx, s.tableSQL(true)); err != nil {
		return s.wrap("create table", err)
	}
	return nil
}

// Rebuild drops and recreates the table and fills it in one transaction.
func (s *PGStore) Rebuild(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback()

	// Recreate the table so a wrong schema or vector size does not survive.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table)); err != nil {
		return s.wrap("drop table", err)
	}
	if _, err := tx.ExecContext(ctx, s.tableSQL(false)); err != nil {
		return s.wrap("create table", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, embedding) VALUES ($1, $2)`, s.table))
	if err != nil {
		return s.wrap("prepare insert", err)
	}
	defer stmt.Close()
	for i, id := range ids {
		if len(vectors[i]) != s.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), s.dimensions)
		}
		if _, err := stmt.ExecContext(ctx, id, pgvector.NewVector(vectors[i])); err != nil {
			return s.wrap("insert vector", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	return nil
}

// Search returns the k nearest rows by cosine distance.
func (s *PGStore) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), s.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, 1 - (embedding <=> $1) AS score FROM %s ORDER BY embedding <=> $1 LIMIT $2`, s.table),
		pgvector.NewVector(query), k,
	)
	if err != nil {
		return nil, s.wrap("search", err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		r := &Result{}
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, s.wrap("scan", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("rows", err)
	}
	return results, nil
}

// Size returns the row count of the collection table.
func (s *PGStore) Size(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, s.wrap("count", err)
	}
	return n, nil
}

// Close closes the connection pool when the store opened it.
func (s *PGStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *PGStore) tableSQL(ifNotExists bool) string {
	create := "CREATE TABLE"
	if ifNotExists {
		create += " IF NOT EXISTS"
	}
	return fmt.Sprintf(`%s %s (id TEXT PRIMARY KEY, embedding vector(%d) NOT NULL)`, create, s.table, s.dimensions)
}

func (s *PGStore) wrap(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && corruptionCodes[pqErr.Code] {
		return fmt.Errorf("%s %s: %v: %w", op, s.table, err, models.ErrIndexCorrupted)
	}
	return fmt.Errorf("%s %s: %w", op, s.table, err)
}
