package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/goliatone/go-autoreply/core"
	"golang.org/x/crypto/argon2"
)

const (
	EncryptionKeyStorageKey  = "encryption_key"
	EncryptionSaltStorageKey = "encryption_key_salt"

	obfuscationSuffix = "_obfuscated"
	keySize           = 32
	saltSize          = 16
)

// KeySource produces the vault key, creating and persisting one on first use.
// Resolve must return the same key on every call once a key exists.
type KeySource interface {
	Resolve(ctx context.Context, store core.KeyValueStore) ([]byte, error)
}

// ObfuscatedKeySource keeps a random key under "encryption_key" as
// base64(base64(key)+"_obfuscated"). The wrapping only hides the key from casual reads.
type ObfuscatedKeySource struct {
	logger core.Logger
}

func (s ObfuscatedKeySource) Resolve(ctx context.Context, store core.KeyValueStore) ([]byte, error) {
	stored, ok, err := store.Get(ctx, EncryptionKeyStorageKey)
	if err != nil {
		return nil, &core.CryptoError{Op: "load key", Err: err}
	}
	if ok {
		key, decodeErr := decodeObfuscatedKey(stored)
		if decodeErr == nil {
			return key, nil
		}
		if s.logger != nil {
			s.logger.Warn("stored encryption key unreadable, generating a new one", "error", decodeErr.Error())
		}
	}

	key, err := randomBytes(keySize)
	if err != nil {
		return nil, &core.CryptoError{Op: "generate key", Err: err}
	}
	if err := store.Set(ctx, EncryptionKeyStorageKey, encodeObfuscatedKey(key)); err != nil {
		return nil, &core.CryptoError{Op: "persist key", Err: err}
	}
	return key, nil
}

func encodeObfuscatedKey(key []byte) string {
	inner := base64.StdEncoding.EncodeToString(key)
	return base64.StdEncoding.EncodeToString([]byte(inner + obfuscationSuffix))
}

func decodeObfuscatedKey(value string) ([]byte, error) {
	outer, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("decode outer layer: %w", err)
	}
	inner := strings.Replace(string(outer), obfuscationSuffix, "", 1)
	key, err := base64.StdEncoding.DecodeString(inner)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("key has %d bytes, want %d", len(key), keySize)
	}
	return key, nil
}

// PassphraseKeySource derives the key from an operator passphrase with Argon2id.
// Only the salt is persisted.
type PassphraseKeySource struct {
	Passphrase string
	Time       uint32
	Memory     uint32
	Threads    uint8
}

func NewPassphraseKeySource(passphrase string) PassphraseKeySource {
	return PassphraseKeySource{
		Passphrase: passphrase,
		Time:       1,
		Memory:     64 * 1024,
		Threads:    4,
	}
}

func (s PassphraseKeySource) Resolve(ctx context.Context, store core.KeyValueStore) ([]byte, error) {
	if strings.TrimSpace(s.Passphrase) == "" {
		return nil, &core.CryptoError{Op: "derive key", Err: fmt.Errorf("passphrase is required")}
	}
	salt, err := s.salt(ctx, store)
	if err != nil {
		return nil, err
	}
	timeCost, memory, threads := s.Time, s.Memory, s.Threads
	if timeCost == 0 {
		timeCost = 1
	}
	if memory == 0 {
		memory = 64 * 1024
	}
	if threads == 0 {
		threads = 4
	}
	return argon2.IDKey([]byte(s.Passphrase), salt, timeCost, memory, threads, keySize), nil
}

func (s PassphraseKeySource) salt(ctx context.Context, store core.KeyValueStore) ([]byte, error) {
	stored, ok, err := store.Get(ctx, EncryptionSaltStorageKey)
	if err != nil {
		return nil, &core.CryptoError{Op: "load salt", Err: err}
	}
	if ok {
		salt, decodeErr := base64.StdEncoding.DecodeString(stored)
		if decodeErr == nil && len(salt) == saltSize {
			return salt, nil
		}
	}
	salt, err := randomBytes(saltSize)
	if err != nil {
		return nil, &core.CryptoError{Op: "generate salt", Err: err}
	}
	if err := store.Set(ctx, EncryptionSaltStorageKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, &core.CryptoError{Op: "persist salt", Err: err}
	}
	return salt, nil
}

func randomBytes(size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
