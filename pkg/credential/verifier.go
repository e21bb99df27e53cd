package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// tracerName is the OpenTelemetry instrumentation scope for credential
// verification spans.
const tracerName = "github.com/mindhub-health/gateway-core/pkg/credential"

// maxTokenSize is the maximum accepted size for a JWT token string (8 KB).
// Tokens larger than this are rejected to prevent resource exhaustion.
const maxTokenSize = 8192

// HTTPClient abstracts the HTTP client used for fetching JWKS and OIDC
// discovery documents, so callers can supply clients with custom
// timeouts, transports, or test doubles. The standard [http.Client]
// satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ---------------------------------------------------------------------------
// VerifierConfig
// ---------------------------------------------------------------------------

// VerifierConfig holds the configuration for [TokenVerifier]: the
// platform HMAC key, the optional external identity provider, caching
// behavior, and clock skew tolerance.
//
// Platform token verification is always on — the gateway cannot operate
// without it, since session cookies are platform-signed. External
// provider verification is enabled by setting ExternalIssuerURL.
type VerifierConfig struct {
	// PlatformSigningKey is the HMAC key used to verify platform tokens
	// (HS256). Must be at least 32 bytes. The Secret type prevents
	// accidental logging of the key value.
	PlatformSigningKey Secret `json:"-" env:"GATEWAY_PLATFORM_SIGNING_KEY"`

	// PlatformIssuer is the expected "iss" claim in platform tokens.
	// Defaults to "mindhub-platform".
	PlatformIssuer string `json:"platform_issuer" env:"GATEWAY_PLATFORM_ISSUER" envDefault:"mindhub-platform"`

	// PlatformAudience is the expected "aud" claim in platform tokens.
	// If empty, the audience claim is not validated.
	PlatformAudience string `json:"platform_audience,omitempty" env:"GATEWAY_PLATFORM_AUDIENCE"`

	// ExternalIssuerURL is the issuer URL of the external identity
	// provider. Empty disables external token verification; any token
	// from a non-platform issuer is then rejected.
	ExternalIssuerURL string `json:"external_issuer_url,omitempty" env:"GATEWAY_EXTERNAL_ISSUER_URL"`

	// ExternalAudience is the expected "aud" claim in external tokens.
	// If empty, the audience claim is not validated.
	ExternalAudience string `json:"external_audience,omitempty" env:"GATEWAY_EXTERNAL_AUDIENCE"`

	// ExternalJWKSURL is the provider's JWKS endpoint. If empty, it is
	// discovered from ExternalIssuerURL's
	// /.well-known/openid-configuration document on first use.
	ExternalJWKSURL string `json:"external_jwks_url,omitempty" env:"GATEWAY_EXTERNAL_JWKS_URL"`

	// ClaimsCacheTTL is the maximum time verified claims are cached
	// before re-verification. The actual TTL for a token is the minimum
	// of this value and the token's remaining lifetime. Must be
	// non-negative. Defaults to 5 minutes.
	ClaimsCacheTTL time.Duration `json:"claims_cache_ttl" env:"GATEWAY_CLAIMS_CACHE_TTL" envDefault:"5m"`

	// ClaimsCacheMaxSize caps the number of cached claim sets. Must be
	// greater than zero. Defaults to 10000.
	ClaimsCacheMaxSize int `json:"claims_cache_max_size" env:"GATEWAY_CLAIMS_CACHE_MAX_SIZE" envDefault:"10000"`

	// JWKSCacheTTL is the time fetched JWKS keys are cached before being
	// refreshed. Must be non-negative. Defaults to 1 hour.
	JWKSCacheTTL time.Duration `json:"jwks_cache_ttl" env:"GATEWAY_JWKS_CACHE_TTL" envDefault:"1h"`

	// ClockSkew is the maximum allowed clock difference between the
	// gateway and the token issuer. Must be non-negative. Defaults to
	// 30 seconds.
	ClockSkew time.Duration `json:"clock_skew" env:"GATEWAY_CLOCK_SKEW" envDefault:"30s"`

	// HTTPClient is used for JWKS and discovery fetches. If nil, a
	// default [http.Client] with a 10-second timeout is used.
	HTTPClient HTTPClient `json:"-"`
}

// Validate checks the configuration for logical correctness and returns
// a *[sserr.Error] with code [sserr.CodeInternalConfiguration] if any
// field is invalid.
func (c *VerifierConfig) Validate() *sserr.Error {
	if len(c.PlatformSigningKey.Value()) < 32 {
		return sserr.New(sserr.CodeInternalConfiguration,
			"credential: platform signing key must be at least 32 bytes")
	}
	if c.PlatformIssuer == "" {
		return sserr.New(sserr.CodeInternalConfiguration,
			"credential: platform issuer must not be empty")
	}
	if c.ClaimsCacheTTL < 0 {
		return sserr.New(sserr.CodeInternalConfiguration,
			"credential: claims cache TTL must be non-negative")
	}
	if c.ClaimsCacheMaxSize <= 0 {
		return sserr.New(sserr.CodeInternalConfiguration,
			"credential: claims cache max size must be greater than zero")
	}
	if c.JWKSCacheTTL < 0 {
		return sserr.New(sserr.CodeInternalConfiguration,
			"credential: JWKS cache TTL must be non-negative")
	}
	if c.ClockSkew < 0 {
		return sserr.New(sserr.CodeInternalConfiguration,
			"credential: clock skew must be non-negative")
	}
	return nil
}

// DefaultVerifierConfig returns a VerifierConfig with standard cache and
// skew settings. The platform signing key must still be supplied.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		PlatformIssuer:     "mindhub-platform",
		ClaimsCacheTTL:     5 * time.Minute,
		ClaimsCacheMaxSize: 10000,
		JWKSCacheTTL:       1 * time.Hour,
		ClockSkew:          30 * time.Second,
	}
}

// ---------------------------------------------------------------------------
// claimsCache — in-memory cache for verified claim sets
// ---------------------------------------------------------------------------

// claimsCacheEntry stores cached claims and their cache expiration time.
type claimsCacheEntry struct {
	claims    *VerifiedClaims
	expiresAt time.Time
}

// claimsCache caches verified claim sets keyed by the SHA-256 hash of
// the token string, avoiding re-parsing and re-verifying hot tokens on
// every request.
type claimsCache struct {
	mu      sync.RWMutex
	entries map[string]*claimsCacheEntry
	maxSize int
	ttl     time.Duration
}

func newClaimsCache(ttl time.Duration, maxSize int) *claimsCache {
	return &claimsCache{
		entries: make(map[string]*claimsCacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// get retrieves cached claims by token hash. Returns nil, false if the
// entry is absent or expired.
func (c *claimsCache) get(tokenHash string) (*VerifiedClaims, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[tokenHash]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.claims, true
}

// put stores verified claims. The effective cache TTL is the minimum of
// the configured TTL and the time remaining until the token expires. If
// the cache is at capacity, expired entries are evicted first, then the
// entry closest to expiration is removed.
func (c *claimsCache) put(tokenHash string, claims *VerifiedClaims) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ttl := c.ttl
	if !claims.ExpiresAt.IsZero() {
		remaining := time.Until(claims.ExpiresAt)
		if remaining <= 0 {
			return // Already expired; do not cache.
		}
		if remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictExpiredLocked()
	}
	if len(c.entries) >= c.maxSize {
		var oldestKey string
		var oldestTime time.Time
		first := true
		for k, v := range c.entries {
			if first || v.expiresAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.expiresAt
				first = false
			}
		}
		if oldestKey != "" {
			delete(c.entries, oldestKey)
		}
	}

	c.entries[tokenHash] = &claimsCacheEntry{
		claims:    claims,
		expiresAt: time.Now().Add(ttl),
	}
}

// evictExpiredLocked removes all expired entries. Caller must hold the
// write lock.
func (c *claimsCache) evictExpiredLocked() {
	now := time.Now()
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// ---------------------------------------------------------------------------
// TokenVerifier
// ---------------------------------------------------------------------------

// TokenVerifier verifies platform (HS256) and external (RS256/ES256 via
// JWKS) JWT credentials, with claim caching, JWKS key management, and
// OpenTelemetry tracing.
//
// Routing is by issuer allow-list: a token whose "iss" claim matches
// neither the platform issuer nor the configured external issuer is
// rejected with [sserr.CodeIssuerMismatch] — there is no algorithm-based
// guessing, which would let an attacker steer a token to a weaker path.
//
// TokenVerifier is safe for concurrent use by multiple goroutines.
type TokenVerifier struct {
	config      VerifierConfig
	tracer      trace.Tracer
	claimsCache *claimsCache
	jwksCache   *jwksCache
	httpClient  HTTPClient

	// extJWKSURL caches the JWKS URL discovered from the external
	// provider's .well-known/openid-configuration endpoint.
	extJWKSURL    string
	extMu         sync.Mutex
	extDiscovered bool
}

// NewTokenVerifier creates a TokenVerifier with the given configuration.
// The configuration is validated before use.
func NewTokenVerifier(cfg VerifierConfig) (*TokenVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &TokenVerifier{
		config:      cfg,
		tracer:      otel.Tracer(tracerName),
		claimsCache: newClaimsCache(cfg.ClaimsCacheTTL, cfg.ClaimsCacheMaxSize),
		jwksCache:   newJWKSCache(cfg.JWKSCacheTTL, httpClient),
		httpClient:  httpClient,
	}, nil
}

// Verify checks the given JWT string and returns the claims it proves.
//
// The method performs the following steps:
//  1. Rejects empty or oversized tokens
//  2. Checks the in-memory claims cache
//  3. Parses the token without verification to inspect the header
//  4. Rejects alg "none" outright
//  5. Routes by the issuer claim to the platform or external path
//  6. Caches the verified claims
//  7. Records OpenTelemetry span attributes and errors
//
// Returns a *[sserr.Error] with an AUTH-category code on failure.
func (v *TokenVerifier) Verify(ctx context.Context, tokenStr string, source Source) (*VerifiedClaims, error) {
	ctx, span := startSpan(ctx, v.tracer, "credential.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("credential.source", string(source)))

	if tokenStr == "" {
		err := sserr.New(sserr.CodeCredentialInvalid, "credential: token must not be empty")
		finishSpan(span, err)
		return nil, err
	}
	if len(tokenStr) > maxTokenSize {
		err := sserr.New(sserr.CodeCredentialInvalid, "credential: token exceeds maximum size")
		finishSpan(span, err)
		return nil, err
	}

	hash := tokenHash(tokenStr)
	if claims, ok := v.claimsCache.get(hash); ok {
		span.SetAttributes(attribute.Bool("credential.cache_hit", true))
		return claims, nil
	}
	span.SetAttributes(attribute.Bool("credential.cache_hit", false))

	// Parse without verification to inspect header and issuer for routing.
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil || unverified == nil {
		parseErr := sserr.New(sserr.CodeCredentialInvalid, "credential: token is malformed")
		finishSpan(span, parseErr)
		return nil, parseErr
	}

	// Reject alg:none — critical security check.
	algStr, _ := unverified.Header["alg"].(string)
	if strings.EqualFold(algStr, "none") {
		err := sserr.New(sserr.CodeCredentialInvalid, "credential: algorithm 'none' is not permitted")
		finishSpan(span, err)
		return nil, err
	}

	mc, ok := unverified.Claims.(jwt.MapClaims)
	if !ok {
		err := sserr.New(sserr.CodeCredentialInvalid, "credential: unable to extract claims")
		finishSpan(span, err)
		return nil, err
	}
	issuer, _ := mc["iss"].(string)

	var claims *VerifiedClaims
	var verifyErr error
	switch {
	case issuer == v.config.PlatformIssuer:
		span.SetAttributes(attribute.String("credential.path", "platform"))
		claims, verifyErr = v.verifyPlatformToken(ctx, tokenStr, source)
	case v.config.ExternalIssuerURL != "" && issuer == v.config.ExternalIssuerURL:
		span.SetAttributes(attribute.String("credential.path", "external"))
		claims, verifyErr = v.verifyExternalToken(ctx, tokenStr, source)
	default:
		verifyErr = sserr.Newf(sserr.CodeIssuerMismatch,
			"credential: token issuer is not on the allow-list")
	}

	if verifyErr != nil {
		classified := classifyError(verifyErr)
		finishSpan(span, classified)
		return nil, classified
	}

	v.claimsCache.put(hash, claims)

	span.SetAttributes(
		attribute.String("credential.subject", claims.Subject),
		attribute.String("credential.issuer", claims.Issuer),
	)
	return claims, nil
}

// verifyPlatformToken verifies a platform-issued JWT signed with HS256.
//
// CRITICAL: jwt.WithValidMethods restricts accepted algorithms to HS256
// only, preventing algorithm confusion attacks where an attacker could
// present an RSA-signed token and trick the verifier into using a public
// key as an HMAC secret.
func (v *TokenVerifier) verifyPlatformToken(ctx context.Context, tokenStr string, source Source) (*VerifiedClaims, error) {
	_, span := startSpan(ctx, v.tracer, "credential.VerifyPlatformToken")
	defer span.End()

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(v.config.PlatformIssuer),
		jwt.WithLeeway(v.config.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if v.config.PlatformAudience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.config.PlatformAudience))
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		return []byte(v.config.PlatformSigningKey.Value()), nil
	}, parserOpts...)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		err := sserr.New(sserr.CodeCredentialInvalid, "credential: invalid platform token claims")
		finishSpan(span, err)
		return nil, err
	}

	claims, err := buildClaims(mc, source)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	return claims, nil
}

// verifyExternalToken verifies a JWT issued by the external identity
// provider, using public keys from its JWKS endpoint.
func (v *TokenVerifier) verifyExternalToken(ctx context.Context, tokenStr string, source Source) (*VerifiedClaims, error) {
	_, span := startSpan(ctx, v.tracer, "credential.VerifyExternalToken")
	defer span.End()

	jwksURL, err := v.getExternalJWKSURL(ctx)
	if err != nil {
		wrapped := sserr.Wrap(err, sserr.CodeKeysUnavailable,
			"credential: external provider discovery failed")
		finishSpan(span, wrapped)
		return nil, wrapped
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(v.config.ExternalIssuerURL),
		jwt.WithLeeway(v.config.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if v.config.ExternalAudience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.config.ExternalAudience))
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, sserr.New(sserr.CodeCredentialInvalid, "credential: token header missing kid")
		}
		return v.jwksCache.getKey(ctx, jwksURL, kid)
	}, parserOpts...)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		err := sserr.New(sserr.CodeCredentialInvalid, "credential: invalid external token claims")
		finishSpan(span, err)
		return nil, err
	}

	claims, err := buildClaims(mc, source)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	return claims, nil
}

// getExternalJWKSURL returns the configured or discovered JWKS URL for
// the external provider.
func (v *TokenVerifier) getExternalJWKSURL(ctx context.Context) (string, error) {
	if v.config.ExternalJWKSURL != "" {
		return v.config.ExternalJWKSURL, nil
	}

	v.extMu.Lock()
	defer v.extMu.Unlock()

	if v.extDiscovered && v.extJWKSURL != "" {
		return v.extJWKSURL, nil
	}

	discovery, err := fetchDiscovery(ctx, v.config.ExternalIssuerURL, v.httpClient)
	if err != nil {
		return "", err
	}

	v.extJWKSURL = discovery.JWKSURI
	v.extDiscovered = true
	return v.extJWKSURL, nil
}

// ---------------------------------------------------------------------------
// Claims construction
// ---------------------------------------------------------------------------

// buildClaims converts a verified claim map into [VerifiedClaims].
// The role hint is taken exclusively from [TrustedRoleClaim]; profile
// claims like "role" never grant privilege.
func buildClaims(mc jwt.MapClaims, source Source) (*VerifiedClaims, error) {
	sub, _ := mc["sub"].(string)
	if sub == "" {
		return nil, sserr.New(sserr.CodeCredentialInvalid,
			"credential: token has no subject")
	}

	claims := &VerifiedClaims{
		Subject: sub,
		Source:  source,
		Claims:  mapClaimsToMap(mc),
	}
	claims.Issuer, _ = mc["iss"].(string)
	claims.Email, _ = mc["email"].(string)
	claims.Name, _ = mc["name"].(string)
	claims.SessionID, _ = mc["sid"].(string)

	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}

	if roleStr, ok := mc[TrustedRoleClaim].(string); ok && roleStr != "" {
		role := policy.Role(strings.ToLower(strings.TrimSpace(roleStr)))
		if !role.Valid() {
			return nil, sserr.Newf(sserr.CodeCredentialInvalid,
				"credential: trusted role claim carries unknown role %q", roleStr)
		}
		claims.RoleHint = role
		claims.RoleTrusted = true
	}

	return claims, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// tokenHash computes the SHA-256 hash of a token string, hex-encoded.
// Used as the claims cache key so raw tokens are never stored in memory.
func tokenHash(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// mapClaimsToMap converts jwt.MapClaims to a plain map[string]any so the
// claims can travel without carrying the jwt.MapClaims type.
func mapClaimsToMap(mc jwt.MapClaims) map[string]any {
	result := make(map[string]any, len(mc))
	for k, v := range mc {
		result[k] = v
	}
	return result
}

// classifyError converts a JWT library error to an appropriate
// *sserr.Error. Errors already carrying a code pass through unchanged.
func classifyError(err error) *sserr.Error {
	if err == nil {
		return nil
	}

	var ssError *sserr.Error
	if errors.As(err, &ssError) {
		return ssError
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return sserr.Wrap(err, sserr.CodeCredentialExpired, "credential: token has expired")
	}
	if errors.Is(err, jwt.ErrTokenInvalidIssuer) {
		return sserr.Wrap(err, sserr.CodeIssuerMismatch, "credential: token issuer is invalid")
	}
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return sserr.Wrap(err, sserr.CodeCredentialInvalid, "credential: token is malformed")
	}
	if errors.Is(err, jwt.ErrSignatureInvalid) {
		return sserr.Wrap(err, sserr.CodeCredentialInvalid, "credential: token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return sserr.Wrap(err, sserr.CodeCredentialInvalid, "credential: token is unverifiable")
	}
	if errors.Is(err, jwt.ErrTokenNotValidYet) {
		return sserr.Wrap(err, sserr.CodeCredentialInvalid, "credential: token is not yet valid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidAudience) {
		return sserr.Wrap(err, sserr.CodeCredentialInvalid, "credential: token audience is invalid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidClaims) {
		return sserr.Wrap(err, sserr.CodeCredentialInvalid, "credential: token claims are invalid")
	}

	return sserr.Wrap(err, sserr.CodeCredentialInvalid, "credential: token verification failed")
}

// startSpan creates a new OpenTelemetry span with the given name.
func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records an error on the span if err is non-nil and sets the
// span status to Error.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
