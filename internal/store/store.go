package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is a single key-value pair returned by List and Range.
type Entry struct {
	Key   []string
	Value json.RawMessage
}

// Decode unmarshals the entry value into out.
func (e Entry) Decode(out any) error {
	return json.Unmarshal(e.Value, out)
}

// RangeOptions control ordered scans.
type RangeOptions struct {
	Limit   int
	Reverse bool
}

// KV is an ordered hierarchical key-value store. Keys are path segments
// (e.g. ["automation", "rules", name]); scans are ordered by the encoded key.
// Every operation is independently atomic at the key level.
type KV interface {
	// Get reads the value at key into out. Returns false if the key is absent.
	Get(ctx context.Context, key []string, out any) (bool, error)
	Set(ctx context.Context, key []string, value any) error
	Delete(ctx context.Context, key []string) error
	// List returns all entries under prefix in key order.
	List(ctx context.Context, prefix []string) ([]Entry, error)
	// Range returns entries with start <= key < end in key order
	// (reversed when opts.Reverse is set).
	Range(ctx context.Context, start, end []string, opts RangeOptions) ([]Entry, error)
}

const sep = "/"

func encodeKey(key []string) string {
	return strings.Join(key, sep)
}

func decodeKey(k string) []string {
	return strings.Split(k, sep)
}

// PG is the Postgres-backed store. A single kv table holds every record:
// settings, users, sessions index, automation rules/targets, telemetry
// buckets, overview mirrors and history entries.
type PG struct {
	pool *pgxpool.Pool
}

// NewPG connects to Postgres and ensures the kv table exists.
func NewPG(ctx context.Context, url string) (*PG, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v JSONB NOT NULL)`); err != nil {
		pool.Close()
		return nil, err
	}
	return &PG{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PG) Close() {
	s.pool.Close()
}

// Pool returns the underlying pgxpool.Pool.
func (s *PG) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PG) Get(ctx context.Context, key []string, out any) (bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, "SELECT v FROM kv WHERE k = $1", encodeKey(key)).Scan(&raw)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (s *PG) Set(ctx context.Context, key []string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		"INSERT INTO kv (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v",
		encodeKey(key), raw)
	return err
}

func (s *PG) Delete(ctx context.Context, key []string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM kv WHERE k = $1", encodeKey(key))
	return err
}

func (s *PG) List(ctx context.Context, prefix []string) ([]Entry, error) {
	p := encodeKey(prefix) + sep
	rows, err := s.pool.Query(ctx, "SELECT k, v FROM kv WHERE k LIKE $1 || '%' ORDER BY k", p)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PG) Range(ctx context.Context, start, end []string, opts RangeOptions) ([]Entry, error) {
	order := "ASC"
	if opts.Reverse {
		order = "DESC"
	}
	query := "SELECT k, v FROM kv WHERE k >= $1 AND k < $2 ORDER BY k " + order
	args := []any{encodeKey(start), encodeKey(end)}
	if opts.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, opts.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: decodeKey(k), Value: json.RawMessage(v)})
	}
	return entries, rows.Err()
}
