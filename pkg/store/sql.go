package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Storage on database/sql. The same SQL runs on SQLite
// and Postgres; queries are written with ? placeholders and rebound for
// Postgres.
type SQLStore struct {
	db      *sql.DB
	q       querier
	dialect string
	inTx    bool
}

// Open connects to the database for the given dialect and initializes the
// schema.
func Open(dialect, dsn string, log logrus.FieldLogger) (*SQLStore, error) {
	switch dialect {
	case DialectSQLite:
		dsn = sqliteDSN(dsn)
	case DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLStore{db: db, q: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.WithField("driver", dialect).Info("Database connection established and schema initialized")
	return s, nil
}

// NewSQLiteStore opens a SQLite database file.
func NewSQLiteStore(path string, log logrus.FieldLogger) (*SQLStore, error) {
	return Open(DialectSQLite, path, log)
}

// sqliteDSN turns on foreign keys and WAL for every pooled connection, which a
// one-off PRAGMA on the pool would not.
func sqliteDSN(dsn string) string {
	params := []string{"_foreign_keys=on", "_journal_mode=WAL", "_busy_timeout=5000"}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var missing []string
	for _, p := range params {
		key := p[:strings.Index(p, "=")+1]
		if !strings.Contains(dsn, key) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	return dsn + sep + strings.Join(missing, "&")
}

// initSchema creates the tables if they don't already exist and adds new
// columns if necessary. Decimal fields are TEXT so no precision is lost.
func (s *SQLStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		father_spouse_name TEXT NOT NULL DEFAULT '',
		place TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL,
		deleted BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL,
		created_by TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS member_groups (
		id TEXT PRIMARY KEY,
		group_code TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		place TEXT NOT NULL DEFAULT '',
		member_ids TEXT NOT NULL DEFAULT '[]',
		active BOOLEAN NOT NULL,
		deleted BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL,
		created_by TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		updated_by TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS staffs (
		id TEXT PRIMARY KEY,
		staff_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		designation TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		loan_number TEXT NOT NULL UNIQUE,
		member_group_id TEXT REFERENCES member_groups(id),
		application_date TIMESTAMP,
		principal TEXT NOT NULL,
		loan_type TEXT NOT NULL DEFAULT '',
		interest_rate TEXT NOT NULL DEFAULT '0',
		interest_amount TEXT NOT NULL DEFAULT '0',
		tenure INTEGER NOT NULL DEFAULT 0,
		monthly_emi TEXT NOT NULL DEFAULT '0',
		emi_day TEXT NOT NULL DEFAULT '',
		start_date TIMESTAMP,
		repayment_frequency TEXT NOT NULL DEFAULT '',
		processing_fees TEXT NOT NULL DEFAULT '0',
		insurance_fees TEXT NOT NULL DEFAULT '0',
		other_fees TEXT NOT NULL DEFAULT '0',
		field_officer_id TEXT NOT NULL DEFAULT '',
		credit_officer_comments TEXT NOT NULL DEFAULT '',
		verification_status TEXT NOT NULL DEFAULT '',
		loan_status TEXT NOT NULL,
		assign_to TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL,
		deleted BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL,
		created_by TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		updated_by TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS loan_members (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		member_group_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		name TEXT NOT NULL,
		place TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		collected TEXT NOT NULL,
		pending TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		created_by TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loan_members_loan ON loan_members(loan_id, member_id);
	CREATE TABLE IF NOT EXISTS loan_member_emis (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		member_id TEXT NOT NULL,
		installment INTEGER NOT NULL,
		emi_date TIMESTAMP NOT NULL,
		emi_amount TEXT NOT NULL,
		emi_delay INTEGER NOT NULL DEFAULT 0,
		emi_status TEXT NOT NULL,
		label TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		created_by TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loan_member_emis_loan ON loan_member_emis(loan_id, member_id);
	CREATE TABLE IF NOT EXISTS billing (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		member_id TEXT NOT NULL,
		member_group_id TEXT,
		amount TEXT NOT NULL,
		billing_code TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		created_by TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_billing_loan ON billing(loan_id, member_id, billing_code);
	`
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	// Columns added after the first release.
	columns := []string{
		"schedule_generated_at TIMESTAMP",
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE loans ADD COLUMN %s", col))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error indicates a duplicate column.
// SQLite says "duplicate column name", Postgres "column ... already exists".
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "duplicate column name") || strings.Contains(msg, "already exists")
}

// InTx runs fn inside a transaction. Calls on a store that is already bound to
// a transaction join it.
func (s *SQLStore) InTx(ctx context.Context, fn func(tx Storage) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLStore{db: s.db, q: tx, dialect: s.dialect, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.rebind(query), args...)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// execOne runs an UPDATE and reports ErrNotFound when no row matched.
func (s *SQLStore) execOne(ctx context.Context, entity, query string, args ...any) error {
	result, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound(entity)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func whereIn[T any](w *where, column string, values []T) {
	if len(values) == 0 {
		return
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	w.add(column+" IN ("+placeholders+")", args...)
}

func page(query string, args []any, offset, limit int) (string, []any) {
	if limit <= 0 {
		return query, args
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}
