package auth

import (
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultFirebaseJWKSURL publishes the keys Firebase signs ID tokens with.
const DefaultFirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

// Config holds the runtime settings of the portal auth server.
type Config struct {
	HTTPAddr    string `env:"PORTAL_AUTH_HTTP_ADDR"    envDefault:":8080"`
	MetricsAddr string `env:"PORTAL_AUTH_METRICS_ADDR" envDefault:":9090"`
	DatabaseDSN string `env:"PORTAL_AUTH_DATABASE_DSN" envDefault:"file:portal_auth.db?cache=shared"`
	Debug       bool   `env:"PORTAL_AUTH_DEBUG"        envDefault:"false"`

	RedisAddr     string `env:"PORTAL_AUTH_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"PORTAL_AUTH_REDIS_PASSWORD"`
	RedisDB       int    `env:"PORTAL_AUTH_REDIS_DB"       envDefault:"0"`

	SessionSigningKey string        `env:"PORTAL_AUTH_SESSION_SIGNING_KEY"`
	SessionTTL        time.Duration `env:"PORTAL_AUTH_SESSION_TTL"         envDefault:"120h"`
	CookieSecure      bool          `env:"PORTAL_AUTH_COOKIE_SECURE"       envDefault:"true"`

	FirebaseProjectID string `env:"PORTAL_AUTH_FIREBASE_PROJECT_ID"`
	FirebaseJWKSURL   string `env:"PORTAL_AUTH_FIREBASE_JWKS_URL"   envDefault:"https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"`

	PhoneDefaultRegion string        `env:"PORTAL_AUTH_PHONE_DEFAULT_REGION" envDefault:"JP"`
	PhoneCodeTTL       time.Duration `env:"PORTAL_AUTH_PHONE_CODE_TTL"       envDefault:"5m"`
	PhoneMaxAttempts   int           `env:"PORTAL_AUTH_PHONE_MAX_ATTEMPTS"   envDefault:"5"`
	PhoneSendLimit     int           `env:"PORTAL_AUTH_PHONE_SEND_LIMIT"     envDefault:"5"`
	PhoneSendWindow    time.Duration `env:"PORTAL_AUTH_PHONE_SEND_WINDOW"    envDefault:"1h"`

	RouteRulesPath string `env:"PORTAL_AUTH_ROUTE_RULES_PATH"`
}

// LoadConfig reads Config from the process environment and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, goerrors.Wrap(err, goerrors.CategoryValidation, "parse portal auth environment").
			WithTextCode("CONFIG_INVALID")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.HTTPAddr, validation.Required),
		validation.Field(&c.DatabaseDSN, validation.Required),
		validation.Field(&c.RedisAddr, validation.Required),
		validation.Field(&c.SessionSigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.SessionTTL, validation.Required),
		validation.Field(&c.FirebaseProjectID, validation.Required),
		validation.Field(&c.FirebaseJWKSURL, validation.Required, is.URL),
		validation.Field(&c.PhoneDefaultRegion, validation.Required, validation.Length(2, 2)),
		validation.Field(&c.PhoneCodeTTL, validation.Required),
		validation.Field(&c.PhoneMaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.PhoneSendLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.PhoneSendWindow, validation.Required),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid portal auth configuration").
			WithTextCode("CONFIG_INVALID")
	}
	return nil
}
