package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq"

	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/preferences"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/shared/models"
)

//go:embed schema.sql
var schema string

var _ preferences.Store = (*DB)(nil)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewWithConn wraps an already opened connection
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Migrate creates the tables the gateway needs if they are missing
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// HashKey returns the stored form of a gateway access key
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// GetAPIKey retrieves an active access key by its raw value
func (db *DB) GetAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	query := `
		SELECT id, user_id, key_hash, key_prefix, name, rate_limit_per_minute,
		       is_active, last_used_at, created_at, updated_at
		FROM api_keys
		WHERE key_hash = $1 AND is_active = true
	`

	var apiKey models.APIKey
	var lastUsed sql.NullTime
	err := db.conn.QueryRowContext(ctx, query, HashKey(rawKey)).Scan(
		&apiKey.ID,
		&apiKey.UserID,
		&apiKey.KeyHash,
		&apiKey.KeyPrefix,
		&apiKey.Name,
		&apiKey.RateLimitPerMinute,
		&apiKey.IsActive,
		&lastUsed,
		&apiKey.CreatedAt,
		&apiKey.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invalid API key")
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if lastUsed.Valid {
		apiKey.LastUsedAt = &lastUsed.Time
	}

	return &apiKey, nil
}

// UpdateAPIKeyLastUsed updates the last_used_at timestamp
func (db *DB) UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error {
	query := `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, apiKeyID)
	return err
}

// Get loads a user's preference record
func (db *DB) Get(ctx context.Context, userID string) (*models.UserPreferenceRecord, error) {
	query := `
		SELECT user_id, provider, api_key_encrypted, model_name, custom_endpoint,
		       temperature, max_tokens, provider_settings, total_requests,
		       total_tokens_used, last_used_at, connection_status, last_error,
		       last_test_at, created_at, updated_at
		FROM user_preferences
		WHERE user_id = $1
	`

	var (
		rec        models.UserPreferenceRecord
		settings   []byte
		requests   int64
		tokens     int64
		lastUsed   sql.NullTime
		lastError  sql.NullString
		lastTestAt sql.NullTime
		status     string
	)
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID,
		&rec.Provider,
		&rec.APIKeyEncrypted,
		&rec.ModelName,
		&rec.CustomEndpoint,
		&rec.Temperature,
		&rec.MaxTokens,
		&settings,
		&requests,
		&tokens,
		&lastUsed,
		&status,
		&lastError,
		&lastTestAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, preferences.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &rec.ProviderSettings); err != nil {
			return nil, fmt.Errorf("failed to decode provider settings: %w", err)
		}
	}
	rec.TotalRequests = uint64(requests)
	rec.TotalTokensUsed = uint64(tokens)
	rec.ConnectionStatus = models.ConnectionStatus(status)
	if lastUsed.Valid {
		rec.LastUsedAt = &lastUsed.Time
	}
	if lastError.Valid {
		rec.LastError = &lastError.String
	}
	if lastTestAt.Valid {
		rec.LastTestAt = &lastTestAt.Time
	}

	return &rec, nil
}

// Upsert writes the configuration fields of a record. Counters and
// last_used_at are left to RecordUsage.
func (db *DB) Upsert(ctx context.Context, userID string, record *models.UserPreferenceRecord) error {
	settings, err := encodeJSON(record.ProviderSettings)
	if err != nil {
		return fmt.Errorf("failed to encode provider settings: %w", err)
	}
	status := record.ConnectionStatus
	if status == "" {
		status = models.StatusUntested
	}

	query := `
		INSERT INTO user_preferences (
			user_id, provider, api_key_encrypted, model_name, custom_endpoint,
			temperature, max_tokens, provider_settings, connection_status,
			last_error, last_test_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			api_key_encrypted = EXCLUDED.api_key_encrypted,
			model_name = EXCLUDED.model_name,
			custom_endpoint = EXCLUDED.custom_endpoint,
			temperature = EXCLUDED.temperature,
			max_tokens = EXCLUDED.max_tokens,
			provider_settings = EXCLUDED.provider_settings,
			connection_status = EXCLUDED.connection_status,
			last_error = EXCLUDED.last_error,
			last_test_at = EXCLUDED.last_test_at,
			updated_at = NOW()
	`

	_, err = db.conn.ExecContext(ctx,
		query,
		userID,
		record.Provider,
		record.APIKeyEncrypted,
		record.ModelName,
		record.CustomEndpoint,
		record.Temperature,
		record.MaxTokens,
		settings,
		string(status),
		nullString(record.LastError),
		nullTime(record.LastTestAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert preferences: %w", err)
	}
	return nil
}

// RecordUsage increments the counters in a single statement so concurrent
// dispatches for the same user are never lost
func (db *DB) RecordUsage(ctx context.Context, userID string, tokens uint64, at time.Time) error {
	query := `
		UPDATE user_preferences SET
			total_requests = total_requests + 1,
			total_tokens_used = total_tokens_used + $2,
			last_used_at = $3,
			connection_status = 'connected',
			last_error = NULL,
			updated_at = NOW()
		WHERE user_id = $1
	`
	res, err := db.conn.ExecContext(ctx, query, userID, int64(tokens), at.UTC())
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return requireRow(res)
}

// RecordStatus writes the connection status fields. last_test_at is kept
// unless the update carries a test time.
func (db *DB) RecordStatus(ctx context.Context, userID string, update preferences.StatusUpdate) error {
	query := `
		UPDATE user_preferences SET
			connection_status = $2,
			last_error = $3,
			last_test_at = COALESCE($4, last_test_at),
			updated_at = NOW()
		WHERE user_id = $1
	`
	res, err := db.conn.ExecContext(ctx, query,
		userID,
		string(update.Status),
		nullString(update.LastError),
		nullTime(update.TestedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record status: %w", err)
	}
	return requireRow(res)
}

// SaveSecurityEvent appends an audit record
func (db *DB) SaveSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	metadata, err := encodeJSON(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode event metadata: %w", err)
	}

	query := `
		INSERT INTO security_events (
			id, user_id, event_type, description, severity, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = db.conn.ExecContext(ctx,
		query,
		event.ID,
		event.UserID,
		string(event.EventType),
		event.Description,
		string(event.Severity),
		metadata,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save security event: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if n == 0 {
		return preferences.ErrNotFound
	}
	return nil
}

func encodeJSON(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
