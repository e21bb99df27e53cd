package credential

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// ---------------------------------------------------------------------------
// jwksCache — caches JWKS public keys for external token verification
// ---------------------------------------------------------------------------

// jwksCacheEntry stores fetched JWKS keys and the time they were fetched.
type jwksCacheEntry struct {
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt time.Time
}

// jwksStaleFactor bounds how long the last-known-good fallback may
// serve a key set past its TTL. Beyond ttl*jwksStaleFactor the entry
// is considered rotated away and verification fails closed.
const jwksStaleFactor = 6

// jwksCache caches JSON Web Key Sets fetched from the external identity
// provider. Keys are cached per JWKS URL and refreshed after the TTL
// expires or when an unknown kid is presented (key rotation).
//
// When a refresh fails, the cache falls back to the last successfully
// fetched key set: a provider outage must not invalidate tokens signed
// with keys the gateway has already seen. The fallback is bounded: an
// entry older than [jwksStaleFactor] times the TTL is no longer
// trusted, so a key the provider rotated out cannot be kept alive
// indefinitely by holding the JWKS endpoint down. Past that bound, or
// when no usable key set has ever been fetched, verification fails
// with [sserr.CodeKeysUnavailable].
type jwksCache struct {
	mu       sync.RWMutex
	entries  map[string]*jwksCacheEntry
	ttl      time.Duration
	maxStale time.Duration
	client   HTTPClient

	now func() time.Time
}

// newJWKSCache creates a new JWKS cache with the given TTL and HTTP client.
func newJWKSCache(ttl time.Duration, client HTTPClient) *jwksCache {
	return &jwksCache{
		entries:  make(map[string]*jwksCacheEntry),
		ttl:      ttl,
		maxStale: ttl * jwksStaleFactor,
		client:   client,
		now:      time.Now,
	}
}

// getKey retrieves a public key by key ID from the JWKS at the given URL,
// fetching or refreshing the key set as needed.
func (c *jwksCache) getKey(ctx context.Context, jwksURL, kid string) (any, error) {
	c.mu.RLock()
	entry, ok := c.entries[jwksURL]
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		key, exists := entry.keys[kid]
		c.mu.RUnlock()
		if exists {
			return key, nil
		}
		// Kid not found in cached JWKS — may be a key rotation; refetch.
	} else {
		c.mu.RUnlock()
	}

	keys, err := c.fetchJWKS(ctx, jwksURL)
	if err != nil {
		// Last-known-good fallback, bounded by the hard staleness
		// limit.
		c.mu.RLock()
		defer c.mu.RUnlock()
		if entry, ok := c.entries[jwksURL]; ok && c.now().Sub(entry.fetchedAt) <= c.maxStale {
			if key, exists := entry.keys[kid]; exists {
				return key, nil
			}
		}
		return nil, sserr.Wrap(err, sserr.CodeKeysUnavailable,
			"credential: signing keys unavailable")
	}

	c.mu.Lock()
	c.entries[jwksURL] = &jwksCacheEntry{
		keys:      keys,
		fetchedAt: c.now(),
	}
	c.mu.Unlock()

	key, exists := keys[kid]
	if !exists {
		return nil, sserr.Newf(sserr.CodeCredentialInvalid,
			"credential: signing key %q not found in provider key set", kid)
	}
	return key, nil
}

// jwksResponse represents the JSON structure of a JWKS endpoint response.
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey represents a single key in a JWKS response. Only the fields
// needed for RSA and EC key reconstruction are included.
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// fetchJWKS makes an HTTP GET request to the JWKS URL, parses the
// response, and constructs a map of key ID to public key. Supports RSA
// and ECDSA (P-256, P-384, P-521) key types.
//
// The response body is limited to 1 MB to prevent resource exhaustion.
func (c *jwksCache) fetchJWKS(ctx context.Context, jwksURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("credential: failed to create JWKS request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credential: JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credential: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("credential: failed to read JWKS response: %w", err)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("credential: failed to parse JWKS JSON: %w", err)
	}

	keys := make(map[string]any, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pubKey, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				continue // Skip malformed keys.
			}
			keys[k.Kid] = pubKey
		case "EC":
			pubKey, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue // Skip malformed keys.
			}
			keys[k.Kid] = pubKey
		}
	}
	return keys, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("credential: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("credential: failed to decode RSA exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded x and y coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("credential: unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("credential: failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("credential: failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// ---------------------------------------------------------------------------
// Provider discovery
// ---------------------------------------------------------------------------

// discoveryResponse represents the relevant fields from a provider's
// .well-known/openid-configuration document.
type discoveryResponse struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// fetchDiscovery fetches the OIDC discovery document from the provider's
// .well-known/openid-configuration endpoint and returns the parsed
// response containing the issuer and JWKS URI.
func fetchDiscovery(ctx context.Context, issuerURL string, client HTTPClient) (*discoveryResponse, error) {
	discoveryURL := strings.TrimRight(issuerURL, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("credential: failed to create discovery request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credential: discovery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credential: discovery endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("credential: failed to read discovery response: %w", err)
	}

	var discovery discoveryResponse
	if err := json.Unmarshal(body, &discovery); err != nil {
		return nil, fmt.Errorf("credential: failed to parse discovery JSON: %w", err)
	}

	if discovery.JWKSURI == "" {
		return nil, fmt.Errorf("credential: discovery document missing jwks_uri")
	}

	return &discovery, nil
}
