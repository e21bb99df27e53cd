package credential

import (
	"net/http"
	"strings"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// Extract locates the credential on a request, checking sources in fixed
// precedence order: session cookie, then Authorization bearer token, then
// the X-API-Key header.
//
// The first source structurally PRESENT wins, even if its value turns out
// to be malformed or unverifiable — a present-but-broken credential is a
// denial, never a fallthrough to the next source. This keeps an attacker
// from pairing a corrupt cookie with a forged API key and having the
// weaker path examined.
//
// Returns [sserr.CodeCredentialMissing] when no source is present.
func Extract(r *http.Request) (RawCredential, error) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if cookie.Value == "" {
			return RawCredential{}, sserr.New(sserr.CodeCredentialInvalid,
				"credential: session cookie is present but empty")
		}
		return RawCredential{Source: SourceSessionCookie, Value: cookie.Value}, nil
	}

	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return RawCredential{}, sserr.New(sserr.CodeCredentialInvalid,
				"credential: Authorization header is not a well-formed bearer token")
		}
		return RawCredential{Source: SourceBearerToken, Value: token}, nil
	}

	if key := r.Header.Get(APIKeyHeader); key != "" {
		return RawCredential{Source: SourceAPIKey, Value: key}, nil
	}

	return RawCredential{}, sserr.New(sserr.CodeCredentialMissing,
		"credential: no credential present on request")
}
