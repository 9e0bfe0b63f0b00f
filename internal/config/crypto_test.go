package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretKey_EncryptDecrypt(t *testing.T) {
	t.Setenv(secretKeyEnv, "test-secret-key-for-unit-tests")

	sk, err := NewSecretKey("")
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"api_key", "sk-abc123def456xyz"},
		{"empty", ""},
		{"long_key", "sk-proj-very-long-api-key-that-might-be-used-by-some-providers-1234567890"},
		{"special_chars", "sk-+/=!@#$%^&*()"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := sk.Encrypt(tt.plaintext)
			require.NoError(t, err)
			if tt.plaintext == "" {
				assert.Empty(t, encrypted)
				return
			}
			assert.True(t, len(encrypted) > 4 && encrypted[:4] == encPrefix)
			assert.NotEqual(t, tt.plaintext, encrypted)

			decrypted, err := sk.Decrypt(encrypted)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestSecretKey_PersistsGeneratedKey(t *testing.T) {
	t.Setenv(secretKeyEnv, "")
	path := filepath.Join(t.TempDir(), "keys", "secret.key")

	first, err := NewSecretKey(path)
	require.NoError(t, err)
	enc, err := first.Encrypt("sk-persisted")
	require.NoError(t, err)

	second, err := NewSecretKey(path)
	require.NoError(t, err)
	dec, err := second.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "sk-persisted", dec)
}

func TestSecretKey_DecryptPlaintext(t *testing.T) {
	t.Setenv(secretKeyEnv, "test-key")
	sk, err := NewSecretKey("")
	require.NoError(t, err)

	result, err := sk.Decrypt("plain-text-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-text-value", result)

	_, err = sk.Decrypt("enc:!!not-base64")
	assert.Error(t, err)
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"ab", "****"},
		{"abcd", "****"},
		{"sk-abc123def", "****3def"},
		{"sk-proj-very-long-key-12345", "****2345"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, MaskSecret(tt.input), tt.input)
	}
	assert.True(t, isMasked("****2345"))
	assert.False(t, isMasked("sk-123"))
}
