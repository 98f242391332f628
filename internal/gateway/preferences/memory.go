package preferences

import (
	"context"
	"sync"
	"time"

	"github.com/mrmushfiq/llm0-provider-gateway/internal/shared/models"
)

// MemoryStore is a Store backed by a map. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.UserPreferenceRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.UserPreferenceRecord),
		now:     time.Now,
	}
}

// Get returns a copy of the user's record
func (s *MemoryStore) Get(_ context.Context, userID string) (*models.UserPreferenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

// Upsert inserts or replaces the configuration part of the record
func (s *MemoryStore) Upsert(_ context.Context, userID string, record *models.UserPreferenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	next := copyRecord(record)
	next.UserID = userID
	next.UpdatedAt = now

	if existing, ok := s.records[userID]; ok {
		next.TotalRequests = existing.TotalRequests
		next.TotalTokensUsed = existing.TotalTokensUsed
		next.LastUsedAt = copyTime(existing.LastUsedAt)
		next.CreatedAt = existing.CreatedAt
	} else {
		next.TotalRequests = 0
		next.TotalTokensUsed = 0
		next.LastUsedAt = nil
		next.CreatedAt = now
	}
	if next.ConnectionStatus == "" {
		next.ConnectionStatus = models.StatusUntested
	}

	s.records[userID] = next
	return nil
}

// RecordUsage adds one request and tokens to the counters under the store lock
func (s *MemoryStore) RecordUsage(_ context.Context, userID string, tokens uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	rec.TotalRequests++
	rec.TotalTokensUsed += tokens
	rec.LastUsedAt = &at
	rec.ConnectionStatus = models.StatusConnected
	rec.LastError = nil
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// RecordStatus writes connection status fields
func (s *MemoryStore) RecordStatus(_ context.Context, userID string, update StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return ErrNotFound
	}
	rec.ConnectionStatus = update.Status
	rec.LastError = copyString(update.LastError)
	if update.TestedAt != nil {
		rec.LastTestAt = copyTime(update.TestedAt)
	}
	rec.UpdatedAt = s.now().UTC()
	return nil
}

func copyRecord(in *models.UserPreferenceRecord) *models.UserPreferenceRecord {
	out := *in
	if in.ProviderSettings != nil {
		out.ProviderSettings = make(map[string]any, len(in.ProviderSettings))
		for k, v := range in.ProviderSettings {
			out.ProviderSettings[k] = v
		}
	}
	out.LastUsedAt = copyTime(in.LastUsedAt)
	out.LastTestAt = copyTime(in.LastTestAt)
	out.LastError = copyString(in.LastError)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
