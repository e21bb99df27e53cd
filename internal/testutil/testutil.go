// Package testutil provides shared helpers for gateway tests: platform
// token minting and typed error-code assertions.
package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// PlatformIssuer matches the verifier's default issuer.
const PlatformIssuer = "mindhub-platform"

// MintPlatformToken signs an HS256 platform token with a standard claim
// set, applying mutate (which may be nil) first. The defaults describe
// an ordinary patient session one hour from expiry.
func MintPlatformToken(t *testing.T, key string, mutate func(jwt.MapClaims)) string {
	t.Helper()

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   PlatformIssuer,
		"sub":   "user-123",
		"email": "casey@mindhub.example",
		"name":  "Casey Reyes",
		"sid":   "sess-abc",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

// RequireCode fails the test unless err carries the expected error
// code.
func RequireCode(t *testing.T, err error, want sserr.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, sserr.GetCode(err),
		"expected code %s, got error: %v", want, err)
}
