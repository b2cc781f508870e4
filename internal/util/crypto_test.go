package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaffSessionToken(t *testing.T) {
	token, err := GenerateToken()
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{64}$`, token)

	other, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)

	// The store keeps only the keyed digest of the cookie value.
	digest := HmacSHA256("console-secret", token)
	assert.Regexp(t, `^[0-9a-f]{64}$`, digest)
	assert.Equal(t, digest, HmacSHA256("console-secret", token))
	assert.NotEqual(t, digest, HmacSHA256("rotated-secret", token))
	assert.NotEqual(t, digest, HmacSHA256("console-secret", other))
}

func TestAgentTokenHash(t *testing.T) {
	stored := HashToken("agent-api-key")

	assert.True(t, ConstantTimeEqual(stored, HashToken("agent-api-key")))
	assert.False(t, ConstantTimeEqual(stored, HashToken("agent-api-key ")))
	assert.False(t, ConstantTimeEqual(stored, stored[:32]))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashToken(""))
}

func TestVerifyHubSignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	sig := HmacSHA256("app-secret", string(body))

	tests := []struct {
		name   string
		secret string
		header string
		valid  bool
	}{
		{"matching signature", "app-secret", "sha256=" + sig, true},
		{"upper-case hex", "app-secret", "sha256=" + strings.ToUpper(sig), true},
		{"wrong app secret", "other-secret", "sha256=" + sig, false},
		{"missing prefix", "app-secret", sig, false},
		{"sha1 header", "app-secret", "sha1=" + sig, false},
		{"empty digest", "app-secret", "sha256=", false},
		{"no header", "app-secret", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, VerifyHubSignature(tc.secret, body, tc.header))
		})
	}

	t.Run("tampered body", func(t *testing.T) {
		assert.False(t, VerifyHubSignature("app-secret", append(body, ' '), "sha256="+sig))
	})
}

func TestStaffPasswordHash(t *testing.T) {
	hash, err := HashPassword("kasir-shift-pagi")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$12$"))

	assert.True(t, CheckPasswordHash("kasir-shift-pagi", hash))
	assert.False(t, CheckPasswordHash("kasir-shift-malam", hash))
	assert.False(t, CheckPasswordHash("kasir-shift-pagi", "not-a-bcrypt-hash"))
}
