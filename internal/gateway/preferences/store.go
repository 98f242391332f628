// Package preferences defines the read/write contract for user provider
// preferences and an in-memory implementation of it.
package preferences

import (
	"context"
	"errors"
	"time"

	"github.com/mrmushfiq/llm0-provider-gateway/internal/shared/models"
)

// ErrNotFound is returned when a user has no preference record
var ErrNotFound = errors.New("preference record not found")

// StatusUpdate is written after a dispatch failure or an explicit test
type StatusUpdate struct {
	Status    models.ConnectionStatus
	LastError *string
	// TestedAt is set only by explicit connection tests
	TestedAt *time.Time
}

// Store persists one UserPreferenceRecord per user.
//
// Upsert writes configuration fields and never touches the usage counters
// or LastUsedAt of an existing record. RecordUsage must be atomic with
// respect to concurrent calls for the same user.
type Store interface {
	Get(ctx context.Context, userID string) (*models.UserPreferenceRecord, error)
	Upsert(ctx context.Context, userID string, record *models.UserPreferenceRecord) error
	RecordUsage(ctx context.Context, userID string, tokens uint64, at time.Time) error
	RecordStatus(ctx context.Context, userID string, update StatusUpdate) error
}
