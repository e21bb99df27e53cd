package credential

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// testSigningKey is a 32-byte HMAC key for platform tokens in tests.
const testSigningKey = "0123456789abcdef0123456789abcdef"

// mintPlatformToken signs an HS256 platform token with sensible default
// claims; mutate adjusts the claim set before signing.
func mintPlatformToken(t *testing.T, key string, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   "mindhub-platform",
		"sub":   "user-123",
		"email": "jane.doe@example.org",
		"name":  "Jane Doe",
		"sid":   "sess-abc",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func newTestVerifier(t *testing.T, mutate func(*VerifierConfig)) *TokenVerifier {
	t.Helper()
	cfg := DefaultVerifierConfig()
	cfg.PlatformSigningKey = Secret(testSigningKey)
	if mutate != nil {
		mutate(&cfg)
	}
	v, err := NewTokenVerifier(cfg)
	require.NoError(t, err)
	return v
}

// ---------------------------------------------------------------------------
// Platform tokens (HS256)
// ---------------------------------------------------------------------------

func TestVerify_PlatformToken(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t, nil)
	token := mintPlatformToken(t, testSigningKey, nil)

	claims, err := v.Verify(context.Background(), token, SourceBearerToken)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, "mindhub-platform", claims.Issuer)
	assert.Equal(t, "jane.doe@example.org", claims.Email)
	assert.Equal(t, "sess-abc", claims.SessionID)
	assert.Equal(t, SourceBearerToken, claims.Source)
	assert.False(t, claims.ExpiresAt.IsZero())
	assert.False(t, claims.RoleTrusted, "no trusted role claim means no role hint")
	assert.Empty(t, claims.RoleHint)
}

func TestVerify_TrustedRoleClaim(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t, nil)
	token := mintPlatformToken(t, testSigningKey, func(c jwt.MapClaims) {
		c[TrustedRoleClaim] = "Psychiatrist"
	})

	claims, err := v.Verify(context.Background(), token, SourceBearerToken)
	require.NoError(t, err)
	assert.True(t, claims.RoleTrusted)
	assert.Equal(t, policy.RolePsychiatrist, claims.RoleHint)
}

func TestVerify_ProfileRoleClaimIsIgnored(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t, nil)
	token := mintPlatformToken(t, testSigningKey, func(c jwt.MapClaims) {
		c["role"] = "admin"
		c["roles"] = []string{"admin"}
	})

	claims, err := v.Verify(context.Background(), token, SourceBearerToken)
	require.NoError(t, err)
	assert.False(t, claims.RoleTrusted,
		"plain profile role claims must never grant privilege")
	assert.Empty(t, claims.RoleHint)
}

func TestVerify_UnknownTrustedRoleRejected(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t, nil)
	token := mintPlatformToken(t, testSigningKey, func(c jwt.MapClaims) {
		c[TrustedRoleClaim] = "superuser"
	})

	_, err := v.Verify(context.Background(), token, SourceBearerToken)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeCredentialInvalid, sserr.GetCode(err))
}

func TestVerify_ExpiredToken(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t, nil)
	token := mintPlatformToken(t, testSigningKey, func(c jwt.MapClaims) {
		c["exp"] = time.Now().Add(-time.Hour).Unix()
	})

	_, err := v.Verify(context.Background(), token, SourceBearerToken)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeCredentialExpired, sserr.GetCode(err))
}

func TestVerify_MissingExpirationRejected(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t, nil)
	token := mintPlatformToken(t, testSigningKey, func(c jwt.MapClaims) {
		delete(c, "exp")
	})

	_, err := v.Verify(context.Background(), token, SourceBearerToken)
	require.Error(t, err, "tokens without exp must be rejected")
	assert.True(t, sserr.IsCredential(err))
}

func TestVerify_TamperedSignature(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t, nil)
	token := mintPlatformToken(t, "wrong-key-wrong-key-wrong-key-32", nil)

	_, err := v.Verify(context.Background(), token, SourceBearerToken)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeCredentialInvalid, sserr.GetCode(err))
}

func TestVerify_AlgNoneRejected(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t, nil)
	claims := jwt.MapClaims{
		"iss": "mindhub-platform",
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, verifyErr := v.Verify(context.Background(), token, SourceBearerToken)
	require.Error(t, verifyErr)
	assert.Equal(t, sserr.CodeCredentialInvalid, sserr.GetCode(verifyErr))
}

func TestVerify_UnknownIssuerRejected(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t, nil)
	token := mintPlatformToken(t, testSigningKey, func(c jwt.MapClaims) {
		c["iss"] = "https://rogue-issuer.example"
	})

	_, err := v.Verify(context.Background(), token, SourceBearerToken)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeIssuerMismatch, sserr.GetCode(err))
}

func TestVerify_MissingSubjectRejected(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t, nil)
	token := mintPlatformToken(t, testSigningKey, func(c jwt.MapClaims) {
		delete(c, "sub")
	})

	_, err := v.Verify(context.Background(), token, SourceBearerToken)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeCredentialInvalid, sserr.GetCode(err))
}

func TestVerify_EmptyAndOversizedTokens(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t, nil)

	_, err := v.Verify(context.Background(), "", SourceBearerToken)
	assert.Equal(t, sserr.CodeCredentialInvalid, sserr.GetCode(err))

	huge := make([]byte, maxTokenSize+1)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err = v.Verify(context.Background(), string(huge), SourceBearerToken)
	assert.Equal(t, sserr.CodeCredentialInvalid, sserr.GetCode(err))
}

func TestVerify_ClaimsCacheHit(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t, nil)
	token := mintPlatformToken(t, testSigningKey, nil)

	first, err := v.Verify(context.Background(), token, SourceBearerToken)
	require.NoError(t, err)
	second, err := v.Verify(context.Background(), token, SourceBearerToken)
	require.NoError(t, err)

	assert.Same(t, first, second, "second verification should be served from cache")
}

func TestVerifierConfig_RejectsShortKey(t *testing.T) {
	t.Parallel()
	cfg := DefaultVerifierConfig()
	cfg.PlatformSigningKey = Secret("too-short")

	_, err := NewTokenVerifier(cfg)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeInternalConfiguration, sserr.GetCode(err))
}

// ---------------------------------------------------------------------------
// External tokens (RS256 via JWKS)
// ---------------------------------------------------------------------------

// fakeProvider is a stand-in external identity provider: it signs RS256
// tokens and serves a JWKS endpoint whose key set and availability the
// test controls.
type fakeProvider struct {
	t      *testing.T
	issuer string
	server *httptest.Server

	mu   sync.Mutex
	keys map[string]*rsa.PrivateKey // kid -> key
	fail bool
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		t:      t,
		issuer: "https://idp.mindhub.example",
		keys:   map[string]*rsa.PrivateKey{},
	}
	p.rotate("kid-1")
	p.server = httptest.NewServer(http.HandlerFunc(p.serveJWKS))
	t.Cleanup(p.server.Close)
	return p
}

// rotate installs a fresh signing key under the given kid, replacing the
// whole published key set.
func (p *fakeProvider) rotate(kid string) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(p.t, err)
	p.mu.Lock()
	p.keys = map[string]*rsa.PrivateKey{kid: key}
	p.mu.Unlock()
}

func (p *fakeProvider) setFailing(fail bool) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

func (p *fakeProvider) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		http.Error(w, "provider outage", http.StatusInternalServerError)
		return
	}

	type jwk struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		Alg string `json:"alg"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	}
	var doc struct {
		Keys []jwk `json:"keys"`
	}
	for kid, key := range p.keys {
		pub := key.Public().(*rsa.PublicKey)
		doc.Keys = append(doc.Keys, jwk{
			Kty: "RSA",
			Kid: kid,
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

// mint signs an RS256 token under the given kid.
func (p *fakeProvider) mint(kid, sub string) string {
	p.mu.Lock()
	key, ok := p.keys[kid]
	p.mu.Unlock()
	require.True(p.t, ok, "no key for kid %q", kid)

	claims := jwt.MapClaims{
		"iss": p.issuer,
		"sub": sub,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(p.t, err)
	return signed
}

func (p *fakeProvider) verifier(t *testing.T) *TokenVerifier {
	t.Helper()
	return newTestVerifier(t, func(cfg *VerifierConfig) {
		cfg.ExternalIssuerURL = p.issuer
		cfg.ExternalJWKSURL = p.server.URL
	})
}

func TestVerify_ExternalToken(t *testing.T) {
	t.Parallel()
	p := newFakeProvider(t)
	v := p.verifier(t)

	claims, err := v.Verify(context.Background(), p.mint("kid-1", "ext-user-7"), SourceBearerToken)
	require.NoError(t, err)
	assert.Equal(t, "ext-user-7", claims.Subject)
	assert.Equal(t, p.issuer, claims.Issuer)
	assert.False(t, claims.RoleTrusted,
		"external tokens carry no platform role claim")
}

func TestVerify_ExternalKeyRotationRefetches(t *testing.T) {
	t.Parallel()
	p := newFakeProvider(t)
	v := p.verifier(t)

	_, err := v.Verify(context.Background(), p.mint("kid-1", "ext-user-7"), SourceBearerToken)
	require.NoError(t, err)

	// Provider rotates to a new kid; the cached set does not know it, so
	// the verifier must refetch.
	p.rotate("kid-2")
	_, err = v.Verify(context.Background(), p.mint("kid-2", "ext-user-8"), SourceBearerToken)
	require.NoError(t, err)
}

func TestVerify_ExternalLastKnownGoodSurvivesOutage(t *testing.T) {
	t.Parallel()
	p := newFakeProvider(t)
	v := newTestVerifier(t, func(cfg *VerifierConfig) {
		cfg.ExternalIssuerURL = p.issuer
		cfg.ExternalJWKSURL = p.server.URL
		cfg.JWKSCacheTTL = time.Minute
		cfg.ClaimsCacheTTL = 0 // bypass the claims cache
	})

	_, err := v.Verify(context.Background(), p.mint("kid-1", "ext-user-7"), SourceBearerToken)
	require.NoError(t, err)

	// Past the refresh TTL but well inside the staleness bound: the
	// last-known-good set still verifies through the outage.
	v.jwksCache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	p.setFailing(true)
	_, err = v.Verify(context.Background(), p.mint("kid-1", "ext-user-8"), SourceBearerToken)
	require.NoError(t, err,
		"a provider outage must not invalidate tokens under known keys")
}

func TestVerify_ExternalStaleKeySetFailsClosed(t *testing.T) {
	t.Parallel()
	p := newFakeProvider(t)
	v := newTestVerifier(t, func(cfg *VerifierConfig) {
		cfg.ExternalIssuerURL = p.issuer
		cfg.ExternalJWKSURL = p.server.URL
		cfg.JWKSCacheTTL = time.Minute
		cfg.ClaimsCacheTTL = 0
	})

	_, err := v.Verify(context.Background(), p.mint("kid-1", "ext-user-7"), SourceBearerToken)
	require.NoError(t, err)

	// Beyond the staleness bound a cached set is no longer trusted: a
	// rotated-out key cannot be kept alive by holding the endpoint down.
	v.jwksCache.now = func() time.Time {
		return time.Now().Add(jwksStaleFactor*time.Minute + time.Minute)
	}
	p.setFailing(true)
	_, err = v.Verify(context.Background(), p.mint("kid-1", "ext-user-8"), SourceBearerToken)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeKeysUnavailable, sserr.GetCode(err))
}

func TestVerify_ExternalKeysUnavailableFromColdStart(t *testing.T) {
	t.Parallel()
	p := newFakeProvider(t)
	p.setFailing(true)
	v := p.verifier(t)

	_, err := v.Verify(context.Background(), p.mint("kid-1", "ext-user-7"), SourceBearerToken)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeKeysUnavailable, sserr.GetCode(err))
}

func TestVerify_ExternalUnknownKidRejected(t *testing.T) {
	t.Parallel()
	p := newFakeProvider(t)
	v := p.verifier(t)

	// Mint under kid-1, then replace the published set so the kid is
	// gone even after a refetch.
	token := p.mint("kid-1", "ext-user-7")
	p.rotate("kid-9")

	_, err := v.Verify(context.Background(), token, SourceBearerToken)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeCredentialInvalid, sserr.GetCode(err))
}

func TestVerify_ExternalDisabledRejectsExternalIssuer(t *testing.T) {
	t.Parallel()
	p := newFakeProvider(t)
	v := newTestVerifier(t, nil) // no external issuer configured

	_, err := v.Verify(context.Background(), p.mint("kid-1", "ext-user-7"), SourceBearerToken)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeIssuerMismatch, sserr.GetCode(err))
}

// ---------------------------------------------------------------------------
// Tracing
// ---------------------------------------------------------------------------

func TestVerify_RecordsErrorSpan(t *testing.T) {
	// Installs a global tracer provider; not parallel.
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	v := newTestVerifier(t, nil)
	_, err := v.Verify(context.Background(), "garbage-token", SourceBearerToken)
	require.Error(t, err)

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() == "credential.Verify" {
			found = true
			assert.Equal(t, otelcodes.Error, span.Status().Code)
		}
	}
	assert.True(t, found, "expected a credential.Verify span to be recorded")
}
