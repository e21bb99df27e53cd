package config

import (
	"strings"
	"time"

	"github.com/mindhub-health/gateway-core/pkg/credential"
	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// GatewayConfig is the deployment configuration for a service embedding
// the admission pipeline. The credential section's env tags carry the
// full GATEWAY_ names already, so load this struct with an unprefixed
// loader:
//
//	cfg := config.MustLoad[config.GatewayConfig](
//	    config.New().WithFile(os.Getenv("GATEWAY_CONFIG_FILE")),
//	)
type GatewayConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" env:"GATEWAY_LISTEN" envDefault:":8443"`

	// Credential configures token verification (signing key, issuers,
	// caches). See [credential.VerifierConfig].
	Credential credential.VerifierConfig `yaml:"credential"`

	// APIKeys lists machine credentials as "service=key" pairs. Keys
	// are secrets; supply them through the environment, not files.
	APIKeys []string `yaml:"-" json:"-" env:"GATEWAY_API_KEYS"`

	// PostgresURL is the accounts database DSN. Empty selects the
	// in-memory account store (tests, local development).
	PostgresURL string `yaml:"postgres_url" json:"-" env:"GATEWAY_POSTGRES_URL"`

	// RedisAddr is the shared session/rate-limit store address. Empty
	// selects the in-memory stores, which do not coordinate across
	// replicas.
	RedisAddr string `yaml:"redis_addr" env:"GATEWAY_REDIS_ADDR"`

	// EmergencyCode is the pre-shared clinical emergency bypass code.
	// Empty disables the bypass.
	EmergencyCode credential.Secret `yaml:"-" json:"-" env:"GATEWAY_EMERGENCY_CODE"`

	// TrustForwardedFor enables client addresses from X-Forwarded-For.
	// Only safe behind a proxy tier that strips the inbound header.
	TrustForwardedFor bool `yaml:"trust_forwarded_for" env:"GATEWAY_TRUST_FORWARDED_FOR"`

	// MaxBodyBytes bounds how much request body the threat scanner
	// reads.
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"GATEWAY_MAX_BODY_BYTES" envDefault:"1048576"`

	// IPRatePerSecond, IPRateBurst, and IPBucketTTL configure the
	// coarse pre-authentication per-address throttle.
	IPRatePerSecond float64       `yaml:"ip_rate_per_second" env:"GATEWAY_IP_RATE_PER_SECOND" envDefault:"25"`
	IPRateBurst     int           `yaml:"ip_rate_burst" env:"GATEWAY_IP_RATE_BURST" envDefault:"50"`
	IPBucketTTL     time.Duration `yaml:"ip_bucket_ttl" env:"GATEWAY_IP_BUCKET_TTL" envDefault:"10m"`

	// LockoutThreshold failures within LockoutWindow lock an address
	// out of credential verification for LockoutDuration.
	LockoutThreshold int           `yaml:"lockout_threshold" env:"GATEWAY_LOCKOUT_THRESHOLD" envDefault:"10"`
	LockoutWindow    time.Duration `yaml:"lockout_window" env:"GATEWAY_LOCKOUT_WINDOW" envDefault:"5m"`
	LockoutDuration  time.Duration `yaml:"lockout_duration" env:"GATEWAY_LOCKOUT_DURATION" envDefault:"15m"`

	// AuditQueueCapacity sizes the non-blocking audit queue.
	AuditQueueCapacity int `yaml:"audit_queue_capacity" env:"GATEWAY_AUDIT_QUEUE_CAPACITY" envDefault:"1024"`
}

// Validate implements [Validator].
func (c *GatewayConfig) Validate() error {
	if err := c.Credential.Validate(); err != nil {
		return err
	}
	if _, err := c.ParseAPIKeys(); err != nil {
		return err
	}
	if c.MaxBodyBytes <= 0 {
		return sserr.New(sserr.CodeValidation,
			"config: max_body_bytes must be positive")
	}
	if c.LockoutThreshold <= 0 || c.LockoutWindow <= 0 || c.LockoutDuration <= 0 {
		return sserr.New(sserr.CodeValidation,
			"config: lockout threshold, window, and duration must be positive")
	}
	return nil
}

// ParseAPIKeys converts the "service=key" pairs into API key registry
// entries.
func (c *GatewayConfig) ParseAPIKeys() ([]credential.APIKeyEntry, error) {
	entries := make([]credential.APIKeyEntry, 0, len(c.APIKeys))
	for _, pair := range c.APIKeys {
		if pair == "" {
			continue
		}
		service, key, found := strings.Cut(pair, "=")
		if !found || service == "" || key == "" {
			return nil, sserr.New(sserr.CodeValidation,
				"config: api keys must be \"service=key\" pairs")
		}
		entries = append(entries, credential.APIKeyEntry{
			Service: service,
			Key:     credential.Secret(key),
		})
	}
	return entries, nil
}
