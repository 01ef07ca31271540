package db

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"rujukan/metrics"
	"rujukan/pkg/domain"
	"rujukan/svc/util"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
	cleanupBatchSize    = 100
	maxIDAttempts       = 5
)

// SQLite is the paste store. It owns the pastes table and is the only
// code that reads or writes it.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
	now           func() time.Time
}

type Option func(*SQLite)

// WithClock replaces time.Now; every operation samples it once.
func WithClock(now func() time.Time) Option {
	return func(s *SQLite) {
		s.now = now
	}
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func Open(path string, opts ...Option) (*SQLite, error) {
	return OpenWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout, opts...)
}

func OpenWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration, opts ...Option) (*SQLite, error) {
	if err := ensureDir(path); err != nil {
		return nil, unavailable("create storage directory", err)
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, unavailable("open db", err)
	}
	if path == ":memory:" {
		// every pooled connection would see its own empty database
		maxOpenConns, maxIdleConns = 1, 1
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable("ping db", err)
	}
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}
	return s, nil
}

func ensureDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL"
}

func unavailable(op string, err error) error {
	return &domain.StorageError{Op: op, Err: err, Unavailable: true}
}
func storageErr(op string, err error) error {
	return &domain.StorageError{Op: op, Err: err}
}

func (s *SQLite) checkCircuit(op string) error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return unavailable(op, ErrCircuitOpen)
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		util.Error().Int32("failures", failures).Msg("database circuit breaker opened")
	}
}
func (s *SQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		title TEXT,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		delete_token TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at);
	CREATE INDEX IF NOT EXISTS idx_pastes_created_at ON pastes(created_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// Create stores a new paste and returns it as written, delete token
// included. An expiration of domain.Never leaves expires_at NULL.
func (s *SQLite) Create(ctx context.Context, content, title string, expiration time.Duration) (*domain.Paste, error) {
	if err := s.checkCircuit("create"); err != nil {
		return nil, err
	}
	now := time.Unix(s.now().Unix(), 0)
	p := &domain.Paste{
		Content:   content,
		Title:     title,
		CreatedAt: now,
		ExpiresAt: domain.ExpiresAt(now, expiration),
	}
	var expiresAt sql.NullInt64
	if p.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: p.ExpiresAt.Unix(), Valid: true}
	}
	token, err := util.NewDeleteToken()
	if err != nil {
		return nil, errors.Wrap(err, "gen delete token")
	}
	p.DeleteToken = token
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (id, content, title, created_at, expires_at, delete_token)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := util.NewPasteID()
		if err != nil {
			return nil, errors.Wrap(err, "gen id")
		}
		_, err = s.db.ExecContext(queryCtx, q, id, content, nullString(title), now.Unix(), expiresAt, token)
		if isPrimaryKeyViolation(err) {
			util.Warn().Str("id", id).Int("attempt", attempt+1).Msg("paste id collision, regenerating")
			continue
		}
		s.recordError(err)
		if err != nil {
			return nil, storageErr("db create", err)
		}
		p.ID = id
		return p, nil
	}
	return nil, domain.ErrIDGenerationFailed
}

// Get returns the paste including its delete token. An expired paste is
// reported as domain.ErrPasteNotFound and purged; purge failures are only logged.
func (s *SQLite) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if err := s.checkCircuit("get"); err != nil {
		return nil, err
	}
	now := s.now()
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, content, title, created_at, expires_at, delete_token
	FROM pastes WHERE id = ?
	`
	var (
		p         domain.Paste
		title     sql.NullString
		createdAt int64
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(
		&p.ID, &p.Content, &title, &createdAt, &expiresAt, &p.DeleteToken,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, storageErr("db get", err)
	}
	p.Title = title.String
	p.CreatedAt = time.Unix(createdAt, 0)
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0)
		p.ExpiresAt = &t
	}
	if p.ExpiredAt(now) {
		if purged, err := s.purgeExpired(ctx, id, now); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("lazy expiry purge failed")
		} else if purged {
			metrics.PasteExpired.WithLabelValues("read").Inc()
		}
		return nil, domain.ErrPasteNotFound
	}
	return &p, nil
}

// purgeExpired deletes id only while it is still expired as of now, so a row
// replaced or re-imported since the read survives.
func (s *SQLite) purgeExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `
	DELETE FROM pastes
	WHERE id = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`, id, now.Unix())
	s.recordError(err)
	if err != nil {
		return false, storageErr("db purge expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("db purge expired", err)
	}
	return n > 0, nil
}

// ListRecent returns up to limit live pastes, newest first. Expired rows are
// filtered out but left in place.
func (s *SQLite) ListRecent(ctx context.Context, limit int) ([]domain.Summary, error) {
	if limit <= 0 {
		return []domain.Summary{}, nil
	}
	if err := s.checkCircuit("list recent"); err != nil {
		return nil, err
	}
	now := s.now().Unix()
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, title, created_at FROM pastes
	WHERE expires_at IS NULL OR expires_at > ?
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?
	`
	rows, err := s.db.QueryContext(queryCtx, q, now, limit)
	s.recordError(err)
	if err != nil {
		return nil, storageErr("db list recent", err)
	}
	defer rows.Close()
	out := make([]domain.Summary, 0, limit)
	for rows.Next() {
		var (
			sum       domain.Summary
			title     sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&sum.ID, &title, &createdAt); err != nil {
			return nil, storageErr("db list recent scan", err)
		}
		sum.Title = title.String
		sum.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("db list recent", err)
	}
	return out, nil
}

// Delete removes the paste only when token matches its delete token.
// It reports whether a row was removed; a missing id is not an error.
func (s *SQLite) Delete(ctx context.Context, id, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	if err := s.checkCircuit("delete"); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var stored string
	err := s.db.QueryRowContext(queryCtx, `SELECT delete_token FROM pastes WHERE id = ?`, id).Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, storageErr("db delete lookup", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return false, nil
	}
	res, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ? AND delete_token = ?`, id, stored)
	s.recordError(err)
	if err != nil {
		return false, storageErr("db delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("db delete", err)
	}
	return n > 0, nil
}

// Purge deletes by id without a token. Callers must never route untrusted
// input here.
func (s *SQLite) Purge(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit("purge"); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ?`, id)
	s.recordError(err)
	if err != nil {
		return false, storageErr("db purge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("db purge", err)
	}
	return n > 0, nil
}

// CleanupExpired deletes every expired paste in batches and returns the
// number removed.
func (s *SQLite) CleanupExpired(ctx context.Context) (int, error) {
	if err := s.checkCircuit("cleanup"); err != nil {
		return 0, err
	}
	now := s.now().Unix()
	totalDeleted := 0
	maxIterations := 10000
	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(queryCtx, `
			DELETE FROM pastes
			WHERE id IN (
				SELECT id FROM pastes
				WHERE expires_at IS NOT NULL AND expires_at <= ?
				LIMIT ?
			)
		`, now, cleanupBatchSize)
		cancel()
		s.recordError(err)
		if err != nil {
			return totalDeleted, storageErr("cleanup batch failed", err)
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted < cleanupBatchSize {
			return totalDeleted, nil
		}
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return totalDeleted, errors.New("cleanup hit iteration limit, more records may exist")
}

// Import inserts p unless its id is already taken and reports whether it did.
func (s *SQLite) Import(ctx context.Context, p *domain.Paste) (bool, error) {
	if err := s.checkCircuit("import"); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var expiresAt sql.NullInt64
	if p.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: p.ExpiresAt.Unix(), Valid: true}
	}
	res, err := s.db.ExecContext(queryCtx, `
	INSERT INTO pastes (id, content, title, created_at, expires_at, delete_token)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`, p.ID, p.Content, nullString(p.Title), p.CreatedAt.Unix(), expiresAt, p.DeleteToken)
	s.recordError(err)
	if err != nil {
		return false, storageErr("db import", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("db import", err)
	}
	return n > 0, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isPrimaryKeyViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}
