package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Config holds service configuration.
type Config struct {
	ServerAddr    string `env:"SERVER_ADDR" envDefault:"0.0.0.0:8080"`
	StoreDriver   string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"tablehub.db"`
	MigrationsDir string `env:"MIGRATIONS_DIR"`
	CharacterSeed string `env:"CHARACTER_SEED"`

	AuthRequired        bool          `env:"AUTH_REQUIRED" envDefault:"false"`
	SessionTTL          time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionCookieName   string        `env:"SESSION_COOKIE_NAME" envDefault:"tablehub_session"`
	SessionCookieSecure bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`

	RoomGracePeriod     time.Duration `env:"ROOM_GRACE_PERIOD" envDefault:"5m"`
	RoomMaxParticipants int           `env:"ROOM_MAX_PARTICIPANTS" envDefault:"8"`

	EngineURL      string        `env:"ENGINE_URL" envDefault:"https://api.openai.com/v1/responses"`
	EngineAPIKey   string        `env:"ENGINE_API_KEY"`
	EngineModel    string        `env:"ENGINE_MODEL" envDefault:"gpt-4.1"`
	EngineTimeout  time.Duration `env:"ENGINE_TIMEOUT" envDefault:"2m"`
	ApprovalPolicy string        `env:"APPROVAL_POLICY" envDefault:"readOnly"`
	DenialEndsTurn bool          `env:"DENIAL_ENDS_TURN" envDefault:"false"`
	MaxToolRounds  int           `env:"MAX_TOOL_ROUNDS" envDefault:"8"`

	OTELEndpoint string `env:"OTEL_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// postgresEnv assembles a DSN when DATABASE_URL is unset.
type postgresEnv struct {
	User     string `env:"POSTGRES_USER" envDefault:"tablehub"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"tablehub_pass"`
	DB       string `env:"POSTGRES_DB" envDefault:"tablehub"`
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     string `env:"POSTGRES_PORT" envDefault:"5432"`
	SSLMode  string `env:"DATABASE_SSLMODE" envDefault:"disable"`
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DatabaseURL == "" {
		var p postgresEnv
		if err := env.Parse(&p); err != nil {
			return nil, fmt.Errorf("parse postgres env: %w", err)
		}
		cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DB, p.SSLMode)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges that env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverSQLite))
	}
	if c.AuthRequired && c.StoreDriver != StoreDriverPostgres {
		errs = append(errs, errors.New("AUTH_REQUIRED needs STORE_DRIVER=postgres"))
	}
	if c.RoomGracePeriod <= 0 {
		errs = append(errs, errors.New("ROOM_GRACE_PERIOD must be positive"))
	}
	if c.RoomMaxParticipants < 1 {
		errs = append(errs, errors.New("ROOM_MAX_PARTICIPANTS must be at least 1"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.MaxToolRounds < 1 {
		errs = append(errs, errors.New("MAX_TOOL_ROUNDS must be at least 1"))
	}
	return errors.Join(errs...)
}
