// Package vault seals provider API keys at rest with per-user keys derived
// from a single master secret.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/mrmushfiq/llm0-provider-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/llm0-provider-gateway/internal/shared/models"
)

const (
	// MinIterations is the PBKDF2 iteration floor
	MinIterations = 100000
	// MinMasterSecretLength guards against trivially guessable master secrets
	MinMasterSecretLength = 16

	keyLength = 32
)

// Scheme tags the encoding that produced a stored blob
type Scheme string

const (
	SchemeAESGCM   Scheme = "aesgcm1"
	SchemeFallback Scheme = "b64fallback1"
)

var (
	ErrDecryptionFailed = errors.New("credential decryption failed")
	ErrEncryptionFailed = errors.New("credential encryption failed")
)

// EventRecorder receives security events raised by the vault
type EventRecorder interface {
	LogSecurityEvent(ctx context.Context, event models.SecurityEvent)
}

// AEADFactory builds the cipher for a derived key
type AEADFactory func(key []byte) (cipher.AEAD, error)

// Config holds vault settings. MasterSecret is required.
type Config struct {
	MasterSecret  string
	Iterations    int
	KeyCacheTTL   time.Duration
	AllowFallback bool
	NewAEAD       AEADFactory
	Events        EventRecorder
	Logger        *slog.Logger
}

// Vault encrypts and decrypts provider keys. It holds no per-call state and
// is safe for concurrent use.
type Vault struct {
	secret        []byte
	iterations    int
	allowFallback bool
	newAEAD       AEADFactory
	keys          *cache.Cache
	events        EventRecorder
	logger        *slog.Logger
}

// New validates cfg and creates a vault
func New(cfg Config) (*Vault, error) {
	if len(cfg.MasterSecret) < MinMasterSecretLength {
		return nil, fmt.Errorf("master secret must be at least %d characters", MinMasterSecretLength)
	}
	iterations := cfg.Iterations
	if iterations < MinIterations {
		iterations = MinIterations
	}
	newAEAD := cfg.NewAEAD
	if newAEAD == nil {
		newAEAD = newAESGCM
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Vault{
		secret:        []byte(cfg.MasterSecret),
		iterations:    iterations,
		allowFallback: cfg.AllowFallback,
		newAEAD:       newAEAD,
		keys:          cache.New(cfg.KeyCacheTTL),
		events:        cfg.Events,
		logger:        logger,
	}, nil
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}

// DeriveUserKey returns the 32-byte key for userID. The result is a
// deterministic function of the master secret and userID.
func (v *Vault) DeriveUserKey(userID string) ([]byte, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	return v.keys.GetOrLoad(userID, func() ([]byte, error) {
		return deriveKey(v.secret, userID, v.iterations), nil
	})
}

// Forget drops userID's cached derived key
func (v *Vault) Forget(userID string) {
	v.keys.Invalidate(userID)
}

// Close drops every cached derived key
func (v *Vault) Close() {
	v.keys.Flush()
}

// deriveKey runs PBKDF2-HMAC-SHA256 over the master secret with a salt of
// sha256(userID || masterSecret)
func deriveKey(secret []byte, userID string, iterations int) []byte {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write(secret)
	salt := h.Sum(nil)
	return pbkdf2.Key(secret, salt, iterations, keyLength, sha256.New)
}

// Encrypt seals plaintext for userID and returns a tagged blob
func (v *Vault) Encrypt(ctx context.Context, plaintext, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrEncryptionFailed)
	}

	key, err := v.DeriveUserKey(userID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	defer wipe(key)

	aead, err := v.newAEAD(key)
	if err != nil {
		if !v.allowFallback {
			v.recordEvent(ctx, userID, models.EventEncryptionFailed, models.SeverityHigh,
				"AEAD unavailable and fallback encoding is disabled", nil)
			return "", fmt.Errorf("%w: cipher unavailable", ErrEncryptionFailed)
		}
		v.recordEvent(ctx, userID, models.EventEncryptionFailed, models.SeverityHigh,
			"AEAD unavailable; credential stored with fallback encoding",
			map[string]any{"scheme": string(SchemeFallback)})
		return encodeBlob(SchemeFallback, []byte(plaintext)), nil
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		v.recordEvent(ctx, userID, models.EventEncryptionFailed, models.SeverityHigh,
			"nonce generation failed", nil)
		return "", fmt.Errorf("%w: generate nonce", ErrEncryptionFailed)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), []byte(userID))
	payload := make([]byte, 0, len(nonce)+len(sealed))
	payload = append(payload, nonce...)
	payload = append(payload, sealed...)
	return encodeBlob(SchemeAESGCM, payload), nil
}

// Decrypt opens a blob produced by Encrypt for the same userID
func (v *Vault) Decrypt(ctx context.Context, blob, userID string) (string, error) {
	scheme, payload, err := decodeBlob(blob)
	if err != nil {
		return "", err
	}

	switch scheme {
	case SchemeFallback:
		v.recordEvent(ctx, userID, models.EventSuspiciousActivity, models.SeverityHigh,
			"credential read from fallback encoding",
			map[string]any{"scheme": string(SchemeFallback)})
		return string(payload), nil

	case SchemeAESGCM:
		if userID == "" {
			return "", fmt.Errorf("%w: user id is required", ErrDecryptionFailed)
		}
		key, err := v.DeriveUserKey(userID)
		if err != nil {
			return "", fmt.Errorf("%w: key derivation", ErrDecryptionFailed)
		}
		defer wipe(key)

		aead, err := v.newAEAD(key)
		if err != nil {
			return "", fmt.Errorf("%w: cipher unavailable", ErrDecryptionFailed)
		}
		if len(payload) < aead.NonceSize()+aead.Overhead() {
			return "", fmt.Errorf("%w: blob too short", ErrDecryptionFailed)
		}
		nonce, ciphertext := payload[:aead.NonceSize()], payload[aead.NonceSize():]
		plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(userID))
		if err != nil {
			return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
		}
		return string(plaintext), nil
	}

	return "", fmt.Errorf("%w: unknown scheme", ErrDecryptionFailed)
}

// SchemeOf reports which scheme produced blob
func SchemeOf(blob string) (Scheme, bool) {
	scheme, _, err := decodeBlob(blob)
	if err != nil {
		return "", false
	}
	return scheme, true
}

func encodeBlob(scheme Scheme, payload []byte) string {
	return string(scheme) + ":" + base64.StdEncoding.EncodeToString(payload)
}

func decodeBlob(blob string) (Scheme, []byte, error) {
	tag, encoded, ok := strings.Cut(strings.TrimSpace(blob), ":")
	if !ok || encoded == "" {
		return "", nil, fmt.Errorf("%w: malformed blob", ErrDecryptionFailed)
	}
	scheme := Scheme(tag)
	if scheme != SchemeAESGCM && scheme != SchemeFallback {
		return "", nil, fmt.Errorf("%w: unknown scheme", ErrDecryptionFailed)
	}
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("%w: malformed blob", ErrDecryptionFailed)
	}
	return scheme, payload, nil
}

func (v *Vault) recordEvent(ctx context.Context, userID string, eventType models.SecurityEventType, severity models.Severity, description string, metadata map[string]any) {
	v.logger.Warn("vault security event", "event_type", eventType, "severity", severity, "user_id", userID)
	if v.events == nil {
		return
	}
	v.events.LogSecurityEvent(ctx, models.SecurityEvent{
		UserID:      userID,
		EventType:   eventType,
		Description: description,
		Severity:    severity,
		Metadata:    metadata,
	})
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
