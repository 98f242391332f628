package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/preferences"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/security"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/shared/models"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
)

// CredentialInput is a user's submitted provider configuration. An empty
// APIKey keeps the stored key when the provider is unchanged.
type CredentialInput struct {
	Provider         providers.Identity `json:"provider"`
	APIKey           string             `json:"api_key,omitempty"`
	ModelName        string             `json:"model_name,omitempty"`
	CustomEndpoint   string             `json:"custom_endpoint,omitempty"`
	Temperature      *float64           `json:"temperature,omitempty"`
	MaxTokens        *int               `json:"max_tokens,omitempty"`
	ProviderSettings map[string]any     `json:"provider_settings,omitempty"`
}

// SaveResult carries the stored record and any advisory findings
type SaveResult struct {
	Record   *models.UserPreferenceRecord `json:"preferences"`
	Warnings []string                     `json:"warnings,omitempty"`
	Issues   []security.Issue             `json:"issues,omitempty"`
}

// SaveCredentials validates, encrypts and stores a provider configuration.
// Usage counters of an existing record are kept.
func (g *Gateway) SaveCredentials(ctx context.Context, userID string, in CredentialInput) (*SaveResult, error) {
	id := providers.ParseIdentity(string(in.Provider))
	if _, ok := g.registry.Get(id); !ok {
		return nil, providers.NewUnsupportedError(id)
	}

	existing, err := g.store.Get(ctx, userID)
	if err != nil && !errors.Is(err, preferences.ErrNotFound) {
		return nil, newStoreError(err)
	}
	if errors.Is(err, preferences.ErrNotFound) {
		existing = nil
	}

	sameProvider := existing != nil && providers.ParseIdentity(existing.Provider) == id
	key := strings.TrimSpace(in.APIKey)
	keepStoredKey := key == "" && sameProvider && existing.HasCredential()

	result := &SaveResult{}
	if !keepStoredKey {
		validation := security.ValidateKeyFormat(id, key)
		if !validation.Valid {
			g.logEvent(ctx, userID, models.EventInvalidProviderConfig, models.SeverityMedium,
				fmt.Sprintf("rejected %s credential: %s", id, strings.Join(validation.Errors, "; ")),
				map[string]any{"provider": string(id)})
			gerr := providers.NewInvalidRequestError(id, "API key is not valid: "+strings.Join(validation.Errors, "; "))
			gerr.Details = map[string]any{"errors": validation.Errors}
			return nil, gerr
		}
		result.Warnings = validation.Warnings
	}

	temperature := DefaultTemperature
	maxTokens := DefaultMaxTokens
	if sameProvider {
		temperature, maxTokens = existing.Temperature, existing.MaxTokens
	}
	if in.Temperature != nil {
		temperature = *in.Temperature
	}
	if in.MaxTokens != nil {
		maxTokens = *in.MaxTokens
	}
	if temperature < 0 || temperature > 2 {
		return nil, providers.NewInvalidRequestError(id, "temperature must be between 0.0 and 2.0")
	}
	if maxTokens <= 0 {
		return nil, providers.NewInvalidRequestError(id, "max_tokens must be greater than zero")
	}

	audited := providers.ProviderConfig{
		Provider:         id,
		APIKey:           key,
		CustomEndpoint:   in.CustomEndpoint,
		Temperature:      temperature,
		MaxTokens:        maxTokens,
		ProviderSettings: in.ProviderSettings,
	}
	if keepStoredKey {
		audited.APIKey = "stored"
	}
	result.Issues = security.AuditProviderConfig(audited)
	audited.Wipe()
	if len(result.Issues) > 0 {
		severity := models.SeverityLow
		if security.HasSevere(result.Issues) {
			severity = models.SeverityHigh
		}
		g.logEvent(ctx, userID, models.EventInvalidProviderConfig, severity,
			fmt.Sprintf("%d configuration issue(s) flagged for %s", len(result.Issues), id),
			map[string]any{"provider": string(id), "issues": issueMessages(result.Issues)})
	}

	rec := &models.UserPreferenceRecord{
		UserID:           userID,
		Provider:         string(id),
		ModelName:        in.ModelName,
		CustomEndpoint:   in.CustomEndpoint,
		Temperature:      temperature,
		MaxTokens:        maxTokens,
		ProviderSettings: in.ProviderSettings,
		ConnectionStatus: models.StatusUntested,
	}

	credentialChanged := !keepStoredKey
	switch {
	case keepStoredKey:
		rec.APIKeyEncrypted = existing.APIKeyEncrypted
	case key != "":
		blob, err := g.vault.Encrypt(ctx, key, userID)
		if err != nil {
			g.logEvent(ctx, userID, models.EventEncryptionFailed, models.SeverityHigh,
				"credential could not be encrypted", map[string]any{"provider": string(id)})
			return nil, providers.NewEncryptionError(id, err)
		}
		rec.APIKeyEncrypted = blob
	}

	// Status is carried over only when nothing that affects the connection changed.
	if existing != nil && sameProvider && !credentialChanged && existing.CustomEndpoint == in.CustomEndpoint {
		rec.ConnectionStatus = existing.ConnectionStatus
		rec.LastError = existing.LastError
		rec.LastTestAt = existing.LastTestAt
	}

	if err := g.store.Upsert(ctx, userID, rec); err != nil {
		return nil, newStoreError(err)
	}

	if credentialChanged {
		eventType, severity := models.EventCredentialCreated, models.SeverityLow
		if existing.HasCredential() {
			eventType, severity = models.EventCredentialUpdated, models.SeverityMedium
		}
		g.logEvent(ctx, userID, eventType, severity,
			fmt.Sprintf("credential %s for %s", strings.TrimPrefix(string(eventType), "credential_"), id),
			map[string]any{"provider": string(id), "has_key": key != ""})
	}

	stored, err := g.store.Get(ctx, userID)
	if err != nil {
		return nil, newStoreError(err)
	}
	result.Record = stored
	return result, nil
}

// DeleteCredentials removes the stored key but keeps the record and its
// usage history
func (g *Gateway) DeleteCredentials(ctx context.Context, userID string) error {
	rec, err := g.store.Get(ctx, userID)
	if errors.Is(err, preferences.ErrNotFound) {
		return providers.NewNoCredentialError(providers.None)
	}
	if err != nil {
		return newStoreError(err)
	}
	id := providers.ParseIdentity(rec.Provider)
	if !rec.HasCredential() {
		return providers.NewNoCredentialError(id)
	}

	rec.APIKeyEncrypted = ""
	rec.ConnectionStatus = models.StatusUntested
	rec.LastError = nil
	rec.LastTestAt = nil
	if err := g.store.Upsert(ctx, userID, rec); err != nil {
		return newStoreError(err)
	}

	g.vault.Forget(userID)

	g.logEvent(ctx, userID, models.EventCredentialDeleted, models.SeverityMedium,
		fmt.Sprintf("credential deleted for %s", id),
		map[string]any{"provider": string(id)})
	return nil
}

// GetPreferences returns the user's stored record. The encrypted key is
// never serialized.
func (g *Gateway) GetPreferences(ctx context.Context, userID string) (*models.UserPreferenceRecord, error) {
	rec, err := g.store.Get(ctx, userID)
	if errors.Is(err, preferences.ErrNotFound) {
		return nil, providers.NewNoCredentialError(providers.None)
	}
	if err != nil {
		return nil, newStoreError(err)
	}
	return rec, nil
}

func issueMessages(issues []security.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Field+": "+i.Message)
	}
	return out
}
