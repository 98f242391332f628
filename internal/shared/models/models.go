package models

import "time"

// ConnectionStatus is the gateway's cached judgment of whether a user's
// credential currently works
type ConnectionStatus string

const (
	StatusUntested      ConnectionStatus = "untested"
	StatusConnected     ConnectionStatus = "connected"
	StatusError         ConnectionStatus = "error"
	StatusQuotaExceeded ConnectionStatus = "quota_exceeded"
)

// UserPreferenceRecord is the persisted provider selection for a user.
// APIKeyEncrypted holds a vault blob and is never serialized to clients.
type UserPreferenceRecord struct {
	UserID           string           `json:"user_id"`
	Provider         string           `json:"provider"`
	APIKeyEncrypted  string           `json:"-"`
	ModelName        string           `json:"model_name,omitempty"`
	CustomEndpoint   string           `json:"custom_endpoint,omitempty"`
	Temperature      float64          `json:"temperature"`
	MaxTokens        int              `json:"max_tokens"`
	ProviderSettings map[string]any   `json:"provider_settings,omitempty"`
	TotalRequests    uint64           `json:"total_requests"`
	TotalTokensUsed  uint64           `json:"total_tokens_used"`
	LastUsedAt       *time.Time       `json:"last_used_at,omitempty"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	LastError        *string          `json:"last_error,omitempty"`
	LastTestAt       *time.Time       `json:"last_test_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// HasCredential reports whether an encrypted key is stored
func (r *UserPreferenceRecord) HasCredential() bool {
	return r != nil && r.APIKeyEncrypted != ""
}

// Severity grades a security event
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEventType names what happened
type SecurityEventType string

const (
	EventCredentialCreated       SecurityEventType = "credential_created"
	EventCredentialUpdated       SecurityEventType = "credential_updated"
	EventCredentialDeleted       SecurityEventType = "credential_deleted"
	EventConnectionTestSucceeded SecurityEventType = "connection_test_succeeded"
	EventConnectionTestFailed    SecurityEventType = "connection_test_failed"
	EventEncryptionFailed        SecurityEventType = "encryption_failed"
	EventDecryptionFailed        SecurityEventType = "decryption_failed"
	EventSuspiciousActivity      SecurityEventType = "suspicious_activity"
	EventRateLimitExceeded       SecurityEventType = "rate_limit_exceeded"
	EventInvalidProviderConfig   SecurityEventType = "invalid_provider_config"
)

// SecurityEvent is an append-only audit record
type SecurityEvent struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	EventType   SecurityEventType `json:"event_type"`
	Description string            `json:"description"`
	Severity    Severity          `json:"severity"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// APIKey represents a gateway access key issued to a user
type APIKey struct {
	ID                 string
	UserID             string
	KeyHash            string
	KeyPrefix          string
	Name               string
	RateLimitPerMinute int
	IsActive           bool
	LastUsedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
