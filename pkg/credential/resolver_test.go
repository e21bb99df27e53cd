package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(newTestVerifier(t, nil), newTestAPIKeyVerifier(t))
	require.NoError(t, err)
	return r
}

func TestResolve_BearerToken(t *testing.T) {
	t.Parallel()
	resolver := newTestResolver(t)
	req := httptest.NewRequest("GET", "/api/patients", nil)
	req.Header.Set("Authorization", "Bearer "+mintPlatformToken(t, testSigningKey, nil))

	claims, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, SourceBearerToken, claims.Source)
}

func TestResolve_SessionCookie(t *testing.T) {
	t.Parallel()
	resolver := newTestResolver(t)
	req := httptest.NewRequest("GET", "/api/patients", nil)
	req.AddCookie(&http.Cookie{
		Name:  SessionCookieName,
		Value: mintPlatformToken(t, testSigningKey, nil),
	})

	claims, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, SourceSessionCookie, claims.Source)
	assert.Equal(t, "sess-abc", claims.SessionID)
}

func TestResolve_APIKey(t *testing.T) {
	t.Parallel()
	resolver := newTestResolver(t)
	req := httptest.NewRequest("GET", "/api/patients", nil)
	req.Header.Set(APIKeyHeader, testAPIKey)

	claims, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "svc:billing-worker", claims.Subject)
}

func TestResolve_NoCredential(t *testing.T) {
	t.Parallel()
	resolver := newTestResolver(t)
	req := httptest.NewRequest("GET", "/api/patients", nil)

	_, err := resolver.Resolve(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeCredentialMissing, sserr.GetCode(err))
}

func TestResolve_BrokenCookieDoesNotFallThroughToAPIKey(t *testing.T) {
	t.Parallel()
	resolver := newTestResolver(t)
	req := httptest.NewRequest("GET", "/api/patients", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "not-a-jwt"})
	req.Header.Set(APIKeyHeader, testAPIKey)

	_, err := resolver.Resolve(context.Background(), req)
	require.Error(t, err,
		"a broken cookie alongside a valid API key must still deny")
	assert.Equal(t, sserr.CodeCredentialInvalid, sserr.GetCode(err))
}

func TestResolve_APIKeyDisabled(t *testing.T) {
	t.Parallel()
	resolver, err := NewResolver(newTestVerifier(t, nil), nil)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/patients", nil)
	req.Header.Set(APIKeyHeader, testAPIKey)

	_, err = resolver.Resolve(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeCredentialInvalid, sserr.GetCode(err))
}

func TestNewResolver_RequiresTokenVerifier(t *testing.T) {
	t.Parallel()
	_, err := NewResolver(nil, nil)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeInternalConfiguration, sserr.GetCode(err))
}
