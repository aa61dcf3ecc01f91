// Package storage contains the persistence layer: DNS records, key-value
// settings, and the query log, all backed by SQLite.
package storage

import (
	"context"
	"time"

	"localdns/pkg/records"
)

// Store defines the interface the rest of the system consumes.
// Implementations must be safe for concurrent use.
type Store interface {
	// Records
	ListRecords(ctx context.Context) ([]records.Record, error)
	GetRecord(ctx context.Context, id int64) (*records.Record, error)
	CreateRecord(ctx context.Context, req CreateRecordRequest) (int64, error)
	UpdateRecord(ctx context.Context, id int64, req UpdateRecordRequest) (bool, error)
	DeleteRecord(ctx context.Context, id int64) (bool, error)
	ActiveRecords(ctx context.Context) ([]records.Record, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, bool, error)
	ListSettings(ctx context.Context) ([]Setting, error)
	UpdateSetting(ctx context.Context, key, value string) error

	// Query logging
	LogQuery(ctx context.Context, log *QueryLog) error
	RecentLogs(ctx context.Context, limit int) ([]*QueryLog, error)
	CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error)

	// Maintenance
	Ping(ctx context.Context) error
	Close() error
}

// QueryLog is a single resolved-query outcome.
type QueryLog struct {
	ID         int64     `json:"id"`
	QueryName  string    `json:"query_name"`
	QueryType  string    `json:"query_type"`
	ResultType string    `json:"result_type"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// How a query was answered.
const (
	ResultLocal     = "LOCAL"
	ResultForwarded = "FORWARDED"
	ResultError     = "ERROR"
)

// Setting is a key-value configuration entry.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Well-known setting keys.
const (
	SettingUpstreamPrimary   = "upstream_primary"
	SettingUpstreamSecondary = "upstream_secondary"
	SettingUpstreamTimeoutMs = "upstream_timeout_ms"
	SettingLogRetentionDays  = "log_retention_days"
)

// CreateRecordRequest carries the fields for a new record. New records are
// created active.
type CreateRecordRequest struct {
	DomainPattern string `json:"domain_pattern"`
	RecordType    string `json:"record_type"`
	Content       string `json:"content"`
	TTL           uint32 `json:"ttl"`
}

// defaultTTL is applied when a create request omits the TTL.
const defaultTTL = 60

// Record validates the request and converts it to a records.Record.
func (r CreateRecordRequest) Record() (records.Record, error) {
	ttl := r.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	rec := records.Record{
		DomainPattern: r.DomainPattern,
		Type:          records.Type(r.RecordType),
		Content:       r.Content,
		TTL:           ttl,
		Active:        true,
	}
	if err := rec.Validate(); err != nil {
		return records.Record{}, err
	}
	return rec, nil
}

// UpdateRecordRequest carries a partial update; nil fields are unchanged.
type UpdateRecordRequest struct {
	DomainPattern *string `json:"domain_pattern"`
	RecordType    *string `json:"record_type"`
	Content       *string `json:"content"`
	TTL           *uint32 `json:"ttl"`
	Active        *bool   `json:"active"`
}

// Apply merges the request into an existing record and validates the result.
func (r UpdateRecordRequest) Apply(rec records.Record) (records.Record, error) {
	if r.DomainPattern != nil {
		rec.DomainPattern = *r.DomainPattern
	}
	if r.RecordType != nil {
		rec.Type = records.Type(*r.RecordType)
	}
	if r.Content != nil {
		rec.Content = *r.Content
	}
	if r.TTL != nil {
		rec.TTL = *r.TTL
	}
	if r.Active != nil {
		rec.Active = *r.Active
	}
	if err := rec.Validate(); err != nil {
		return records.Record{}, err
	}
	return rec, nil
}

// Config holds SQLite storage configuration.
type Config struct {
	Path           string
	BusyTimeout    int // milliseconds
	WALMode        bool
	ConnectRetries int
	ConnectBackoff time.Duration
}

// DefaultConfig returns a default storage configuration
func DefaultConfig() Config {
	return Config{
		Path:           "./localdns.db",
		BusyTimeout:    5000,
		WALMode:        true,
		ConnectRetries: 3,
		ConnectBackoff: time.Second,
	}
}
