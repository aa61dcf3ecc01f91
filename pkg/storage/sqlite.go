package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"localdns/pkg/logging"
	"localdns/pkg/records"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	logger *logging.Logger

	stmtInsertLog *sql.Stmt

	mu     sync.RWMutex
	closed bool
}

// Open creates a SQLite store, retrying the initial connection a bounded
// number of times with a fixed backoff before giving up. This covers the
// common case of the database file living on storage that is still coming
// up at boot.
func Open(cfg Config, logger *logging.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewDefault()
	}
	if cfg.ConnectRetries < 1 {
		cfg.ConnectRetries = 1
	}

	var store *SQLiteStore
	var err error
	for attempt := 1; attempt <= cfg.ConnectRetries; attempt++ {
		store, err = open(cfg, logger)
		if err == nil {
			return store, nil
		}
		logger.Warn("Database connection failed",
			"attempt", attempt,
			"max_attempts", cfg.ConnectRetries,
			"error", err)
		if attempt < cfg.ConnectRetries {
			time.Sleep(cfg.ConnectBackoff)
		}
	}
	return nil, fmt.Errorf("database connection failed after %d attempts: %w", cfg.ConnectRetries, err)
}

func open(cfg Config, logger *logging.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if pingErr := db.Ping(); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, pingErr)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if cfg.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, pragmaErr := db.Exec(pragma); pragmaErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", pragmaErr)
		}
	}

	if migrationErr := runMigrations(db); migrationErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", migrationErr)
	}

	stmtInsertLog, err := db.Prepare(`
		INSERT INTO query_logs (query_name, query_type, result_type, duration_ms)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare log insert statement: %w", err)
	}

	return &SQLiteStore{
		db:            db,
		cfg:           cfg,
		logger:        logger,
		stmtInsertLog: stmtInsertLog,
	}, nil
}

func (s *SQLiteStore) guard() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// ListRecords returns all records, newest first.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]records.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain_pattern, record_type, content, ttl, active
		FROM records
		ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// ActiveRecords returns all active records in storage order. This is the
// record cache's reload source.
func (s *SQLiteStore) ActiveRecords(ctx context.Context) ([]records.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain_pattern, record_type, content, ttl, active
		FROM records
		WHERE active = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// GetRecord returns a record by id, or ErrNotFound.
func (s *SQLiteStore) GetRecord(ctx context.Context, id int64) (*records.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	rec, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) getRecord(ctx context.Context, id int64) (*records.Record, error) {
	var rec records.Record
	var active int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, domain_pattern, record_type, content, ttl, active
		FROM records
		WHERE id = ?
	`, id).Scan(&rec.ID, &rec.DomainPattern, &rec.Type, &rec.Content, &rec.TTL, &active)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	rec.Active = active == 1
	return &rec, nil
}

// CreateRecord validates and inserts a new record, returning its id.
func (s *SQLiteStore) CreateRecord(ctx context.Context, req CreateRecordRequest) (int64, error) {
	rec, err := req.Record()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO records (domain_pattern, record_type, content, ttl, active)
		VALUES (?, ?, ?, ?, 1)
	`, rec.DomainPattern, string(rec.Type), rec.Content, rec.TTL)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return res.LastInsertId()
}

// UpdateRecord applies a partial update to an existing record. It returns
// false when the record does not exist.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, id int64, req UpdateRecordRequest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return false, err
	}

	existing, err := s.getRecord(ctx, id)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	rec, err := req.Apply(*existing)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	activeVal := 0
	if rec.Active {
		activeVal = 1
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE records
		SET domain_pattern = ?, record_type = ?, content = ?, ttl = ?, active = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, rec.DomainPattern, string(rec.Type), rec.Content, rec.TTL, activeVal, id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return true, nil
}

// DeleteRecord removes a record by id, returning whether it existed.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return affected > 0, nil
}

// GetSetting returns a setting value and whether the key exists.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return "", false, err
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return value, true, nil
}

// ListSettings returns all settings ordered by key.
func (s *SQLiteStore) ListSettings(ctx context.Context) ([]Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var settings []Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

// UpdateSetting creates or replaces a setting.
func (s *SQLiteStore) UpdateSetting(ctx context.Context, key, value string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return nil
}

// LogQuery persists one query log entry.
func (s *SQLiteStore) LogQuery(ctx context.Context, log *QueryLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return err
	}

	_, err := s.stmtInsertLog.ExecContext(ctx, log.QueryName, log.QueryType, log.ResultType, log.DurationMs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return nil
}

// RecentLogs returns the most recent query log entries, newest first.
func (s *SQLiteStore) RecentLogs(ctx context.Context, limit int) ([]*QueryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_name, query_type, result_type, duration_ms, timestamp
		FROM query_logs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*QueryLog
	for rows.Next() {
		var l QueryLog
		var ts string
		if err := rows.Scan(&l.ID, &l.QueryName, &l.QueryType, &l.ResultType, &l.DurationMs, &ts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		l.Timestamp = parseSQLiteTime(ts)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// CleanupOldLogs deletes query log entries older than the retention window
// and returns how many were removed.
func (s *SQLiteStore) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM query_logs
		WHERE timestamp < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return res.RowsAffected()
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the store. Subsequent calls return ErrClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	_ = s.stmtInsertLog.Close()
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]records.Record, error) {
	var recs []records.Record
	for rows.Next() {
		var rec records.Record
		var active int
		if err := rows.Scan(&rec.ID, &rec.DomainPattern, &rec.Type, &rec.Content, &rec.TTL, &active); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		rec.Active = active == 1
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// parseSQLiteTime parses CURRENT_TIMESTAMP values ("2006-01-02 15:04:05").
// Unparseable values yield the zero time rather than an error.
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
