package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DBDriver       string        `mapstructure:"DB_DRIVER"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int           `mapstructure:"DB_MAX_CONNS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	APITokenSecret string        `mapstructure:"API_TOKEN_SECRET"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BackupDir      string        `mapstructure:"BACKUP_DIR"`
	BackupZip      bool          `mapstructure:"BACKUP_ZIP"`
	BackupKeep     int           `mapstructure:"BACKUP_KEEP"`
	SMTPHost       string        `mapstructure:"SMTP_HOST"`
	SMTPPort       int           `mapstructure:"SMTP_PORT"`
	SMTPUser       string        `mapstructure:"SMTP_USER"`
	SMTPPassword   string        `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom       string        `mapstructure:"SMTP_FROM"`
}

// minSecretLen is the shortest API token secret accepted outside development.
const minSecretLen = 32

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DATABASE_URL", "agenda.db")
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BACKUP_DIR", "backups")
	v.SetDefault("BACKUP_ZIP", true)
	v.SetDefault("BACKUP_KEEP", 10)
	v.SetDefault("SMTP_PORT", 587)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "DB_DRIVER", "DATABASE_URL", "DB_MAX_CONNS",
		"CORS_ORIGINS", "API_TOKEN_SECRET", "REQUEST_TIMEOUT",
		"BACKUP_DIR", "BACKUP_ZIP", "BACKUP_KEEP",
		"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD", "SMTP_FROM",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SMTPEnabled reports whether outbound email is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// Validate checks that the configuration is safe to run. Outside development
// the API must be protected by a token secret.
func (c *Config) Validate() error {
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("DB_DRIVER must be \"sqlite\" or \"postgres\", got %q", c.DBDriver)
	}
	if !c.IsDev() && c.APITokenSecret == "" {
		return fmt.Errorf("API_TOKEN_SECRET is required when ENV=%q", c.Env)
	}
	if c.APITokenSecret != "" && len(c.APITokenSecret) < minSecretLen {
		return fmt.Errorf("API_TOKEN_SECRET must be at least %d characters, got %d", minSecretLen, len(c.APITokenSecret))
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.BackupKeep < 1 {
		return fmt.Errorf("BACKUP_KEEP must be at least 1, got %d", c.BackupKeep)
	}
	if c.SMTPEnabled() && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	return nil
}
