package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/goliatone/go-autoreply/core"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	TokenKeyPrefix  = "secure_token_"
	APIKeyPrefix    = "secure_api_key_"
	nonceSize       = 12
	expiryBuffer    = 5 * time.Minute
	randomStringLen = 32
)

type Option func(*Vault)

func WithKeySource(source KeySource) Option {
	return func(v *Vault) {
		if source != nil {
			v.keySource = source
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(v *Vault) {
		if now != nil {
			v.now = now
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(v *Vault) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// Vault encrypts credentials with AES-256-GCM and keeps them in a KeyValueStore.
// The key lives in a memguard enclave and is only unsealed for the duration of a
// single encrypt or decrypt.
type Vault struct {
	store     core.KeyValueStore
	keySource KeySource
	logger    core.Logger
	now       func() time.Time

	mu      sync.RWMutex
	enclave *memguard.Enclave
}

func NewVault(store core.KeyValueStore, opts ...Option) (*Vault, error) {
	if store == nil {
		return nil, fmt.Errorf("security: key value store is required")
	}
	vault := &Vault{
		store:  store,
		logger: glog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(vault)
	}
	if vault.keySource == nil {
		vault.keySource = ObfuscatedKeySource{logger: vault.logger}
	}
	return vault, nil
}

// Initialize loads or creates the key. Calling it again is a no-op.
func (v *Vault) Initialize(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.enclave != nil {
		return nil
	}
	key, err := v.keySource.Resolve(ctx, v.store)
	if err != nil {
		return err
	}
	if len(key) != keySize {
		return &core.CryptoError{Op: "initialize", Err: fmt.Errorf("key has %d bytes, want %d", len(key), keySize)}
	}
	v.enclave = memguard.NewEnclave(key)
	v.logger.Info("credential vault initialized")
	return nil
}

func (v *Vault) Initialized() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.enclave != nil
}

func (v *Vault) withGCM(op string, fn func(gcm cipher.AEAD) error) error {
	v.mu.RLock()
	enclave := v.enclave
	v.mu.RUnlock()
	if enclave == nil {
		return &core.CryptoError{Op: op, Err: fmt.Errorf("encryption key is not initialized")}
	}
	buf, err := enclave.Open()
	if err != nil {
		return &core.CryptoError{Op: op, Err: err}
	}
	defer buf.Destroy()

	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		return &core.CryptoError{Op: op, Err: err}
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return &core.CryptoError{Op: op, Err: err}
	}
	return fn(gcm)
}

// Encrypt seals a value. Strings are sealed as-is, anything else as JSON.
func (v *Vault) Encrypt(_ context.Context, value any) (string, error) {
	var plaintext []byte
	switch typed := value.(type) {
	case string:
		plaintext = []byte(typed)
	case []byte:
		plaintext = append([]byte(nil), typed...)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", &core.CryptoError{Op: "encrypt", Err: err}
		}
		plaintext = encoded
	}

	var blob string
	err := v.withGCM("encrypt", func(gcm cipher.AEAD) error {
		nonce, err := randomBytes(nonceSize)
		if err != nil {
			return &core.CryptoError{Op: "encrypt", Err: err}
		}
		sealed := gcm.Seal(nil, nonce, plaintext, nil)
		blob = base64.StdEncoding.EncodeToString(append(nonce, sealed...))
		return nil
	})
	return blob, err
}

func (v *Vault) decryptRaw(blob string) ([]byte, error) {
	combined, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return nil, &core.CryptoError{Op: "decrypt", Err: err}
	}
	if len(combined) <= nonceSize {
		return nil, &core.CryptoError{Op: "decrypt", Err: fmt.Errorf("payload too short")}
	}
	var plaintext []byte
	err = v.withGCM("decrypt", func(gcm cipher.AEAD) error {
		opened, openErr := gcm.Open(nil, combined[:nonceSize], combined[nonceSize:], nil)
		if openErr != nil {
			return &core.CryptoError{Op: "decrypt", Err: openErr}
		}
		plaintext = opened
		return nil
	})
	return plaintext, err
}

// Decrypt opens a blob and returns the JSON value it holds, or the raw text when the
// plaintext is not JSON.
func (v *Vault) Decrypt(_ context.Context, blob string) (any, error) {
	plaintext, err := v.decryptRaw(blob)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(plaintext, &decoded); err == nil {
		return decoded, nil
	}
	return string(plaintext), nil
}

func (v *Vault) DecryptInto(_ context.Context, blob string, target any) error {
	plaintext, err := v.decryptRaw(blob)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, target); err != nil {
		return &core.CryptoError{Op: "decode", Err: err}
	}
	return nil
}

func (v *Vault) StoreToken(ctx context.Context, accountID string, token core.TokenRecord) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("security: account id is required")
	}
	blob, err := v.Encrypt(ctx, token)
	if err != nil {
		return err
	}
	if err := v.store.Set(ctx, TokenKeyPrefix+accountID, blob); err != nil {
		return fmt.Errorf("security: store token: %w", err)
	}
	v.logger.Debug("token stored", "account_id", accountID)
	return nil
}

// GetToken returns nil without error when nothing is stored for the account.
func (v *Vault) GetToken(ctx context.Context, accountID string) (*core.TokenRecord, error) {
	blob, ok, err := v.store.Get(ctx, TokenKeyPrefix+strings.TrimSpace(accountID))
	if err != nil {
		return nil, fmt.Errorf("security: load token: %w", err)
	}
	if !ok || blob == "" {
		return nil, nil
	}
	var token core.TokenRecord
	if err := v.DecryptInto(ctx, blob, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (v *Vault) StoreAPIKey(ctx context.Context, platform core.Platform, apiKey string) error {
	blob, err := v.Encrypt(ctx, apiKey)
	if err != nil {
		return err
	}
	if err := v.store.Set(ctx, APIKeyPrefix+string(platform), blob); err != nil {
		return fmt.Errorf("security: store api key: %w", err)
	}
	return nil
}

func (v *Vault) GetAPIKey(ctx context.Context, platform core.Platform) (string, bool, error) {
	blob, ok, err := v.store.Get(ctx, APIKeyPrefix+string(platform))
	if err != nil {
		return "", false, fmt.Errorf("security: load api key: %w", err)
	}
	if !ok || blob == "" {
		return "", false, nil
	}
	plaintext, err := v.decryptRaw(blob)
	if err != nil {
		return "", false, err
	}
	return string(plaintext), true, nil
}

// Clear removes the account's token. An empty account id wipes every stored token
// and API key.
func (v *Vault) Clear(ctx context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID != "" {
		if err := v.store.Delete(ctx, TokenKeyPrefix+accountID); err != nil {
			return fmt.Errorf("security: clear token: %w", err)
		}
		return nil
	}
	keys, err := v.secureKeys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := v.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("security: clear %s: %w", key, err)
		}
	}
	v.logger.Info("all secure entries cleared", "count", len(keys))
	return nil
}

func (v *Vault) secureKeys(ctx context.Context) ([]string, error) {
	var keys []string
	for _, prefix := range []string{APIKeyPrefix, TokenKeyPrefix} {
		found, err := v.store.Keys(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("security: list %s keys: %w", prefix, err)
		}
		keys = append(keys, found...)
	}
	return keys, nil
}

// IsExpired treats a token as expired five minutes before its expiry.
func (v *Vault) IsExpired(token *core.TokenRecord) bool {
	if token == nil || token.ExpiresAt.IsZero() {
		return true
	}
	return !v.now().Add(expiryBuffer).Before(token.ExpiresAt)
}

type Status struct {
	EncryptionKeyExists bool      `json:"encryptionKeyExists"`
	SecureStorageCount  int       `json:"secureStorageCount"`
	LastActivity        time.Time `json:"lastActivity"`
}

func (v *Vault) SecurityStatus(ctx context.Context) (Status, error) {
	keys, err := v.secureKeys(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		EncryptionKeyExists: v.Initialized(),
		SecureStorageCount:  len(keys),
		LastActivity:        v.now().UTC(),
	}, nil
}

var _ core.CredentialVault = (*Vault)(nil)
