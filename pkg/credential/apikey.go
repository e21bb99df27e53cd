package credential

import (
	"crypto/sha256"
	"crypto/subtle"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// minAPIKeyLength is the minimum accepted length for a registered service
// key. Shorter keys are rejected at construction.
const minAPIKeyLength = 32

// APIKeyEntry registers one backend service's pre-shared key.
type APIKeyEntry struct {
	// Service is the service's stable name, used as the subject of the
	// resulting claims ("svc:<name>").
	Service string `json:"service"`

	// Key is the pre-shared key value. The Secret type prevents
	// accidental logging.
	Key Secret `json:"-"`
}

// apiKeyRecord holds the SHA-256 digest of a registered key. Digests,
// not raw keys, are kept in memory and compared.
type apiKeyRecord struct {
	service string
	digest  [sha256.Size]byte
}

// APIKeyVerifier verifies pre-shared service keys from the X-API-Key
// header. Comparison is constant-time over SHA-256 digests, and every
// registered key is checked on every lookup so timing does not reveal
// which keys exist.
//
// A matched key yields system-role claims: API keys belong to backend
// services, never to human users.
//
// APIKeyVerifier is safe for concurrent use by multiple goroutines.
type APIKeyVerifier struct {
	records []apiKeyRecord
}

// NewAPIKeyVerifier builds a verifier from the registered entries.
// Returns [sserr.CodeInternalConfiguration] for duplicate service names,
// empty service names, or keys shorter than 32 bytes.
func NewAPIKeyVerifier(entries []APIKeyEntry) (*APIKeyVerifier, error) {
	seen := make(map[string]bool, len(entries))
	records := make([]apiKeyRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.Service == "" {
			return nil, sserr.New(sserr.CodeInternalConfiguration,
				"credential: API key entry has an empty service name")
		}
		if seen[entry.Service] {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"credential: duplicate API key entry for service %q", entry.Service)
		}
		if len(entry.Key.Value()) < minAPIKeyLength {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"credential: API key for service %q is shorter than %d bytes",
				entry.Service, minAPIKeyLength)
		}
		seen[entry.Service] = true
		records = append(records, apiKeyRecord{
			service: entry.Service,
			digest:  sha256.Sum256([]byte(entry.Key.Value())),
		})
	}
	return &APIKeyVerifier{records: records}, nil
}

// Verify checks the presented key against every registered key and
// returns system-role claims for the owning service on a match. An
// unknown key returns [sserr.CodeCredentialInvalid]; the presented value
// is never included in the error.
func (v *APIKeyVerifier) Verify(presented string) (*VerifiedClaims, error) {
	if presented == "" {
		return nil, sserr.New(sserr.CodeCredentialInvalid,
			"credential: API key must not be empty")
	}

	digest := sha256.Sum256([]byte(presented))

	// Check every record so lookup time is independent of which key, if
	// any, matched.
	matched := -1
	for i := range v.records {
		if subtle.ConstantTimeCompare(digest[:], v.records[i].digest[:]) == 1 {
			matched = i
		}
	}
	if matched < 0 {
		return nil, sserr.New(sserr.CodeCredentialInvalid,
			"credential: API key is not recognized")
	}

	service := v.records[matched].service
	return &VerifiedClaims{
		Subject:     "svc:" + service,
		Issuer:      "mindhub-api-key-registry",
		Name:        service,
		Source:      SourceAPIKey,
		RoleHint:    policy.RoleSystem,
		RoleTrusted: true,
		Claims: map[string]any{
			"sub":     "svc:" + service,
			"service": service,
		},
	}, nil
}
