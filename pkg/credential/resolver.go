package credential

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// ClaimsResolver resolves a request's credential into verified claims.
// Implemented by [Resolver]; the gateway pipeline depends on this
// interface so tests can substitute a stub.
type ClaimsResolver interface {
	Resolve(ctx context.Context, r *http.Request) (*VerifiedClaims, error)
}

// Resolver combines credential extraction with verification: tokens go
// to the [TokenVerifier], API keys to the [APIKeyVerifier]. A request
// with no credential, or with a credential that fails verification, is
// denied — the resolver never downgrades to a weaker source.
//
// Resolver is safe for concurrent use by multiple goroutines.
type Resolver struct {
	tokens  *TokenVerifier
	apiKeys *APIKeyVerifier
	tracer  trace.Tracer
}

// Compile-time assertion that Resolver implements ClaimsResolver.
var _ ClaimsResolver = (*Resolver)(nil)

// NewResolver creates a Resolver. The token verifier is required; the
// API key verifier may be nil, in which case API key credentials are
// rejected as invalid.
func NewResolver(tokens *TokenVerifier, apiKeys *APIKeyVerifier) (*Resolver, error) {
	if tokens == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration,
			"credential: resolver requires a token verifier")
	}
	return &Resolver{
		tokens:  tokens,
		apiKeys: apiKeys,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Resolve extracts the request's credential and verifies it, returning
// the claims it proves or a typed denial.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (*VerifiedClaims, error) {
	ctx, span := startSpan(ctx, r.tracer, "credential.Resolve")
	defer span.End()

	raw, err := Extract(req)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("credential.source", string(raw.Source)))

	var claims *VerifiedClaims
	switch raw.Source {
	case SourceAPIKey:
		if r.apiKeys == nil {
			err = sserr.New(sserr.CodeCredentialInvalid,
				"credential: API key authentication is not enabled")
		} else {
			claims, err = r.apiKeys.Verify(raw.Value)
		}
	default:
		claims, err = r.tokens.Verify(ctx, raw.Value, raw.Source)
	}
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("credential.subject", claims.Subject))
	return claims, nil
}
