package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is parsed from the environment. cmd/identity loads a .env file
// first, so local development only needs a checked-out repo and one file.
type Config struct {
	Env       string `env:"APP_ENV" envDefault:"development"`
	Port      int    `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	DatabaseFile string `env:"DATABASE_FILE" envDefault:"identity.db"`

	// Token signing. The secret is shared with nothing; satellite apps only
	// ever see signed tokens.
	Issuer        string        `env:"TOKEN_ISSUER" envDefault:"identity-service"`
	Audience      string        `env:"TOKEN_AUDIENCE" envDefault:"geomap-app"`
	SigningKID    string        `env:"TOKEN_SIGNING_KID" envDefault:"relay-key-001"`
	SigningSecret string        `env:"TOKEN_SIGNING_SECRET"`
	AccessTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`

	// Relay behaviour.
	DefaultRedirectURL string `env:"DEFAULT_REDIRECT_URL" envDefault:"http://localhost:3000/"`

	// Sessions.
	SessionBackend string        `env:"SESSION_BACKEND" envDefault:"memory"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	RedisURL       string        `env:"REDIS_URL"`
	SecureCookies  bool          `env:"SECURE_COOKIES" envDefault:"false"`

	// TemplateDir overrides the embedded HTML templates and hot-reloads
	// them. Leave empty in production.
	TemplateDir string `env:"TEMPLATE_DIR"`

	// Upstream OAuth providers. A provider is enabled when its client ID is
	// set.
	GoogleClientID     string `env:"OAUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"OAUTH_GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"OAUTH_GOOGLE_REDIRECT_URL"`
	GitHubClientID     string `env:"OAUTH_GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"OAUTH_GITHUB_CLIENT_SECRET"`
	GitHubRedirectURL  string `env:"OAUTH_GITHUB_REDIRECT_URL"`

	// Optional bootstrap account, seeded verified on startup. Useful for
	// fresh deployments and test containers; ignored when the email exists.
	BootstrapEmail    string `env:"BOOTSTRAP_EMAIL"`
	BootstrapName     string `env:"BOOTSTRAP_NAME" envDefault:"Administrator"`
	BootstrapPassword string `env:"BOOTSTRAP_PASSWORD"`

	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SigningSecret == "" {
		return errors.New("config: TOKEN_SIGNING_SECRET is required")
	}
	if len(c.SigningSecret) < 32 {
		return errors.New("config: TOKEN_SIGNING_SECRET must be at least 32 bytes")
	}
	switch c.SessionBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL is required when SESSION_BACKEND=redis")
		}
	default:
		return fmt.Errorf("config: unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.BootstrapEmail != "" && c.BootstrapPassword == "" {
		return errors.New("config: BOOTSTRAP_PASSWORD is required when BOOTSTRAP_EMAIL is set")
	}
	if c.AccessTTL > c.RefreshTTL {
		return errors.New("config: ACCESS_TOKEN_TTL must not exceed REFRESH_TOKEN_TTL")
	}
	return nil
}
