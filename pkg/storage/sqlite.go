package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/snapp-incubator/outlog/internal/logging"
	"github.com/snapp-incubator/outlog/pkg/policy"
)

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string

	// MaxOpenConns defaults to 4.
	MaxOpenConns int

	// BusyTimeout defaults to 5 seconds.
	BusyTimeout time.Duration
}

// SQLiteStorage keeps records and the policy row in a SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database at cfg.Path and creates the schema.
func NewSQLiteStorage(cfg SQLiteConfig) (*SQLiteStorage, error) {
	if cfg.Path == "" {
		return nil, newError("sqlite", "open", fmt.Errorf("db path cannot be empty"))
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, newError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	s := &SQLiteStorage{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.L.Info("SQLite storage initialized", zap.String("path", cfg.Path))

	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return newError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(insertSchemaVersion, SchemaVersion); err != nil {
		return newError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(getSchemaVersion).Scan(&version); err != nil {
		return newError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return newError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	return nil
}

func (s *SQLiteStorage) Name() string { return "sqlite" }

// Store inserts r in its own transaction.
func (s *SQLiteStorage) Store(ctx context.Context, r *LogRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newError(s.Name(), "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, insertLog,
		r.ID, r.URL, r.Hostname, r.Params, r.StatusCode, r.Method,
		r.ReqContentType, r.ResContentType, r.ReqHeaders, r.ResHeaders,
		nonNil(r.ReqBody), nonNil(r.ResBody), r.ReqBodyEncoding, r.ResBodyEncoding,
		r.ResponseMS, r.Timestamp.UTC().UnixNano(), r.Trace,
	)
	if err != nil {
		return newError(s.Name(), "store", err)
	}

	if err := tx.Commit(); err != nil {
		return newError(s.Name(), "commit", err)
	}
	return nil
}

func (s *SQLiteStorage) List(ctx context.Context, q Query) ([]*LogRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.Hostname != "" {
		where = append(where, "hostname = ?")
		args = append(args, q.Hostname)
	}
	if q.Method != "" {
		where = append(where, "method = ?")
		args = append(args, q.Method)
	}
	if !q.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, q.Since.UTC().UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, q.Until.UTC().UnixNano())
	}

	query := "SELECT " + logColumns + " FROM outgoing_requests_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, q.limit(), q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newError(s.Name(), "list", err)
	}
	defer rows.Close()

	records := []*LogRecord{}
	for rows.Next() {
		r, err := scanLog(rows)
		if err != nil {
			return nil, newError(s.Name(), "scan", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, newError(s.Name(), "list", err)
	}

	return records, nil
}

func (s *SQLiteStorage) Get(ctx context.Context, id string) (*LogRecord, error) {
	r, err := scanLog(s.db.QueryRowContext(ctx, selectLogByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, newError(s.Name(), "get", err)
	}
	return r, nil
}

func (s *SQLiteStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, newError(s.Name(), "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, deleteLogsBefore, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, newError(s.Name(), "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, newError(s.Name(), "delete", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, newError(s.Name(), "commit", err)
	}
	return n, nil
}

func (s *SQLiteStorage) LoadPolicy(ctx context.Context) (policy.Policy, bool, error) {
	var (
		saveToDB, saveBody string
		p                  policy.Policy
		resetAfter         sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, selectConfig).Scan(&saveToDB, &saveBody, &p.MaxContentLength, &resetAfter)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Policy{}, false, nil
	}
	if err != nil {
		return policy.Policy{}, false, newError(s.Name(), "load_policy", err)
	}

	if err := p.SaveToDB.UnmarshalText([]byte(saveToDB)); err != nil {
		return policy.Policy{}, false, newError(s.Name(), "load_policy", err)
	}
	if err := p.SaveBody.UnmarshalText([]byte(saveBody)); err != nil {
		return policy.Policy{}, false, newError(s.Name(), "load_policy", err)
	}
	if resetAfter.Valid {
		v := int(resetAfter.Int64)
		p.ResetAfter = &v
	}

	return p, true, nil
}

func (s *SQLiteStorage) SavePolicy(ctx context.Context, p policy.Policy) error {
	var resetAfter any
	if p.ResetAfter != nil {
		resetAfter = *p.ResetAfter
	}

	_, err := s.db.ExecContext(ctx, upsertConfig, p.SaveToDB.String(), p.SaveBody.String(), p.MaxContentLength, resetAfter)
	if err != nil {
		return newError(s.Name(), "save_policy", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (*LogRecord, error) {
	var (
		r                      LogRecord
		status                 sql.NullInt64
		reqHeaders, resHeaders sql.NullString
		trace                  sql.NullString
		timestamp              int64
	)

	err := row.Scan(
		&r.ID, &r.URL, &r.Hostname, &r.Params, &status, &r.Method,
		&r.ReqContentType, &r.ResContentType, &reqHeaders, &resHeaders,
		&r.ReqBody, &r.ResBody, &r.ReqBodyEncoding, &r.ResBodyEncoding,
		&r.ResponseMS, &timestamp, &trace,
	)
	if err != nil {
		return nil, err
	}

	if status.Valid {
		code := int(status.Int64)
		r.StatusCode = &code
	}
	r.ReqHeaders = reqHeaders.String
	r.ResHeaders = resHeaders.String
	r.Trace = trace.String
	r.Timestamp = time.Unix(0, timestamp)

	return r.normalize(), nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
