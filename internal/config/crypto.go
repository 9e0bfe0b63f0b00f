package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	encPrefix    = "enc:"
	secretKeyEnv = "SCOUT_SECRET_KEY"
)

// SecretKey seals provider API keys before they reach the settings table (AES-256-GCM).
type SecretKey struct {
	aead cipher.AEAD
}

// NewSecretKey derives the key from SCOUT_SECRET_KEY when set. Otherwise it reads
// keyPath, generating and writing a random key there on first use.
// An empty keyPath means ~/.techscout/secret.key.
func NewSecretKey(keyPath string) (*SecretKey, error) {
	var key []byte
	if raw := os.Getenv(secretKeyEnv); raw != "" {
		h := sha256.Sum256([]byte(raw))
		key = h[:]
	} else {
		if keyPath == "" {
			keyPath = filepath.Join(homeDir(), ".techscout", "secret.key")
		}
		var err error
		if key, err = loadOrCreateKey(keyPath); err != nil {
			return nil, err
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &SecretKey{aead: gcm}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil && len(data) >= 32 {
		return data[:32], nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate secret key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write secret key: %w", err)
	}
	return key, nil
}

// Encrypt returns "enc:" + base64(nonce || ciphertext). Empty input stays empty.
func (s *SecretKey) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values without the "enc:" prefix pass through unchanged.
func (s *SecretKey) Decrypt(encrypted string) (string, error) {
	if !strings.HasPrefix(encrypted, encPrefix) {
		return encrypted, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encrypted, encPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", errors.New("ciphertext too short")
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plain), nil
}

// MaskSecret returns a display-safe form such as "****abcd".
func MaskSecret(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 4:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}

func isMasked(s string) bool {
	return strings.HasPrefix(s, "****")
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	return os.TempDir()
}
