package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/preferences"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/shared/models"
)

var preferenceColumns = []string{
	"user_id", "provider", "api_key_encrypted", "model_name", "custom_endpoint",
	"temperature", "max_tokens", "provider_settings", "total_requests",
	"total_tokens_used", "last_used_at", "connection_status", "last_error",
	"last_test_at", "created_at", "updated_at",
}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewWithConn(conn), mock
}

func TestGet(t *testing.T) {
	db, mock := newMockDB(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	lastUsed := created.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("FROM user_preferences")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(preferenceColumns).AddRow(
			"user-1", "openai", "aesgcm1:abc", "gpt-4o", "",
			0.5, 256, []byte(`{"debug":false}`), int64(3),
			int64(120), lastUsed, "connected", nil,
			nil, created, created,
		))

	rec, err := db.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "openai", rec.Provider)
	assert.Equal(t, "aesgcm1:abc", rec.APIKeyEncrypted)
	assert.Equal(t, 0.5, rec.Temperature)
	assert.Equal(t, 256, rec.MaxTokens)
	assert.Equal(t, false, rec.ProviderSettings["debug"])
	assert.Equal(t, uint64(3), rec.TotalRequests)
	assert.Equal(t, uint64(120), rec.TotalTokensUsed)
	assert.Equal(t, models.StatusConnected, rec.ConnectionStatus)
	require.NotNil(t, rec.LastUsedAt)
	assert.True(t, lastUsed.Equal(*rec.LastUsedAt))
	assert.Nil(t, rec.LastError)
	assert.Nil(t, rec.LastTestAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_preferences")).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(preferenceColumns))

	_, err := db.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, preferences.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_LeavesCountersAlone(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id) DO UPDATE SET")).
		WithArgs("user-1", "gemini", "aesgcm1:xyz", "", "", 0.7, 1024,
			sqlmock.AnyArg(), "untested", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.Upsert(context.Background(), "user-1", &models.UserPreferenceRecord{
		Provider:         "gemini",
		APIKeyEncrypted:  "aesgcm1:xyz",
		Temperature:      0.7,
		MaxTokens:        1024,
		ProviderSettings: map[string]any{"verbose": true},
		TotalRequests:    42,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUsage_IsAtomicIncrement(t *testing.T) {
	db, mock := newMockDB(t)
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("total_requests = total_requests + 1")).
		WithArgs("user-1", int64(57), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.RecordUsage(context.Background(), "user-1", 57, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUsage_MissingRecord(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE user_preferences")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.RecordUsage(context.Background(), "nobody", 1, time.Now())
	assert.ErrorIs(t, err, preferences.ErrNotFound)
}

func TestRecordStatus(t *testing.T) {
	db, mock := newMockDB(t)
	msg := "OPENAI_401: invalid key"
	tested := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("last_test_at = COALESCE($4, last_test_at)")).
		WithArgs("user-1", "error", msg, tested).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("last_test_at = COALESCE($4, last_test_at)")).
		WithArgs("user-1", "quota_exceeded", msg, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	require.NoError(t, db.RecordStatus(ctx, "user-1", preferences.StatusUpdate{
		Status: models.StatusError, LastError: &msg, TestedAt: &tested,
	}))
	require.NoError(t, db.RecordStatus(ctx, "user-1", preferences.StatusUpdate{
		Status: models.StatusQuotaExceeded, LastError: &msg,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSecurityEvent(t *testing.T) {
	db, mock := newMockDB(t)
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO security_events")).
		WithArgs("evt-1", "user-1", "credential_created", "credential created for openai", "low",
			[]byte(`{"provider":"openai"}`), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.SaveSecurityEvent(context.Background(), &models.SecurityEvent{
		ID:          "evt-1",
		UserID:      "user-1",
		EventType:   models.EventCredentialCreated,
		Description: "credential created for openai",
		Severity:    models.SeverityLow,
		Metadata:    map[string]any{"provider": "openai"},
		Timestamp:   ts,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAPIKey(t *testing.T) {
	db, mock := newMockDB(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	columns := []string{"id", "user_id", "key_hash", "key_prefix", "name", "rate_limit_per_minute",
		"is_active", "last_used_at", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM api_keys")).
		WithArgs(HashKey("gw-live-secret")).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"key-1", "user-1", HashKey("gw-live-secret"), "gw-live", "default", 60,
			true, nil, created, created,
		))

	key, err := db.GetAPIKey(context.Background(), "gw-live-secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", key.UserID)
	assert.Equal(t, 60, key.RateLimitPerMinute)
	assert.Nil(t, key.LastUsedAt)

	mock.ExpectQuery(regexp.QuoteMeta("FROM api_keys")).
		WithArgs(HashKey("unknown")).
		WillReturnRows(sqlmock.NewRows(columns))
	_, err = db.GetAPIKey(context.Background(), "unknown")
	assert.EqualError(t, err, "invalid API key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHashKey(t *testing.T) {
	assert.Len(t, HashKey("anything"), 64)
	assert.Equal(t, HashKey("a"), HashKey("a"))
	assert.NotEqual(t, HashKey("a"), HashKey("b"))
}

func TestMigrate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS user_preferences")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
