package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	x402 "github.com/xignet/x402/go"
)

// Dialect selects placeholder syntax for SQLStore
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore is a durable Backend on database/sql. Inserts use
// ON CONFLICT DO NOTHING, so concurrent writers of one key across processes
// leave exactly one row.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	ttl     time.Duration
	now     func() time.Time
}

// DefaultSQLTable holds settlement replays
const DefaultSQLTable = "settlement_replays"

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SQLOption configures a SQLStore
type SQLOption func(*SQLStore)

// WithSQLTTL expires rows ttl after they are stored. Zero keeps them forever.
func WithSQLTTL(ttl time.Duration) SQLOption {
	return func(s *SQLStore) {
		s.ttl = ttl
	}
}

// WithSQLTable stores rows in table instead of settlement_replays
func WithSQLTable(table string) SQLOption {
	return func(s *SQLStore) {
		s.table = table
	}
}

// NewSQLStore creates the settlement_replays table if needed. The caller owns
// db and registers the driver (modernc.org/sqlite or github.com/lib/pq).
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, opts ...SQLOption) (*SQLStore, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %q", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect, table: DefaultSQLTable, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if !tableNamePattern.MatchString(s.table) {
		return nil, fmt.Errorf("invalid sql table name: %q", s.table)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		idempotency_key TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL DEFAULT '',
		record TEXT NOT NULL,
		consent TEXT NOT NULL DEFAULT '',
		stored_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL DEFAULT 0
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// bind rewrites ? placeholders for the configured dialect
func (s *SQLStore) bind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get returns the stored entry if it exists and hasn't expired.
func (s *SQLStore) Get(ctx context.Context, key string) (*Entry, error) {
	query := s.bind(`SELECT record, fingerprint, consent, stored_at, expires_at FROM ` + s.table + ` WHERE idempotency_key = ?`)

	var (
		record      string
		fingerprint string
		consent     string
		storedAt    int64
		expiresAt   int64
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&record, &fingerprint, &consent, &storedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expiresAt > 0 && s.now().UnixMilli() >= expiresAt {
		return nil, nil
	}

	entry := &Entry{Fingerprint: fingerprint, StoredAt: time.UnixMilli(storedAt).UTC()}
	if err := json.Unmarshal([]byte(record), &entry.Record); err != nil {
		return nil, fmt.Errorf("decode settlement record: %w", err)
	}
	if consent != "" {
		entry.Consent = &x402.VerificationResult{}
		if err := json.Unmarshal([]byte(consent), entry.Consent); err != nil {
			return nil, fmt.Errorf("decode consent: %w", err)
		}
	}
	return entry, nil
}

// Set inserts entry unless a live row for key exists.
func (s *SQLStore) Set(ctx context.Context, key string, entry Entry) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	record, err := json.Marshal(entry.Record)
	if err != nil {
		return false, fmt.Errorf("encode settlement record: %w", err)
	}
	var consent []byte
	if entry.Consent != nil {
		if consent, err = json.Marshal(entry.Consent); err != nil {
			return false, fmt.Errorf("encode consent: %w", err)
		}
	}

	now := s.now()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = now
	}
	var expiresAt int64
	if s.ttl > 0 {
		expiresAt = now.Add(s.ttl).UnixMilli()
	}

	purge := s.bind(`DELETE FROM ` + s.table + ` WHERE idempotency_key = ? AND expires_at > 0 AND expires_at <= ?`)
	if _, err := s.db.ExecContext(ctx, purge, key, now.UnixMilli()); err != nil {
		return false, err
	}

	insert := s.bind(`INSERT INTO ` + s.table + ` (idempotency_key, fingerprint, record, consent, stored_at, expires_at) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (idempotency_key) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, insert, key, entry.Fingerprint, string(record), string(consent), entry.StoredAt.UnixMilli(), expiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var _ Backend = (*SQLStore)(nil)
