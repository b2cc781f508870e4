package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port     int    `env:"PORT" envDefault:"8002"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	CallLogBackend        string `env:"CALL_LOG_BACKEND" envDefault:"file"`
	CallLogDir            string `env:"CALL_LOG_DIR" envDefault:"call_logs"`
	DatabaseURL           string `env:"DATABASE_URL"`
	SQLitePath            string `env:"SQLITE_PATH" envDefault:"data/call_logs.db"`
	RedisURL              string `env:"REDIS_URL"`
	LockTimeoutMS         int    `env:"LOCK_TIMEOUT_MS" envDefault:"5000"`
	CallLogRetentionHours int    `env:"CALL_LOG_RETENTION_HOURS" envDefault:"0"`

	AgentAPIToken      string `env:"AGENT_API_TOKEN"`
	StaffPasswordHash  string `env:"STAFF_PASSWORD_HASH"`
	StaffSessionSecret string `env:"STAFF_SESSION_SECRET"`

	PDFStorageDir string `env:"PDF_STORAGE_DIR" envDefault:"uploaded_pdfs"`
	PDFTextPath   string `env:"PDF_TEXT_PATH" envDefault:"pdf_text_cache.txt"`
	ConfigFile    string `env:"CONFIG_FILE" envDefault:"config.json"`

	WhatsAppToken       string `env:"WHATSAPP_TOKEN"`
	WhatsAppPhoneID     string `env:"WHATSAPP_PHONE_ID"`
	WhatsAppVerifyToken string `env:"WHATSAPP_VERIFY_TOKEN"`
	WhatsAppAppSecret   string `env:"WHATSAPP_APP_SECRET"`
	WhatsAppAPIBaseURL  string `env:"WHATSAPP_API_BASE_URL" envDefault:"https://graph.facebook.com/v18.0"`
	WhatsAppOutboxPath  string `env:"WHATSAPP_OUTBOX_PATH" envDefault:"whatsapp_messages.txt"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"call_agent"`
	ConsoleStaticDir string `env:"CONSOLE_STATIC_DIR" envDefault:"static/console"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

// CallLogRetention returns zero when retention is disabled.
func (c *Config) CallLogRetention() time.Duration {
	return time.Duration(c.CallLogRetentionHours) * time.Hour
}

func (c *Config) WhatsAppConfigured() bool {
	return c.WhatsAppToken != "" && c.WhatsAppPhoneID != ""
}

func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

func (c *Config) Validate(isProduction bool) error {
	switch c.CallLogBackend {
	case BackendFile, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CALL_LOG_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("CALL_LOG_BACKEND must be one of file, postgres, sqlite (got %q)", c.CallLogBackend)
	}

	if c.LockTimeoutMS <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT_MS must be positive")
	}
	if c.CallLogRetentionHours < 0 {
		return fmt.Errorf("CALL_LOG_RETENTION_HOURS must not be negative")
	}

	if c.StaffPasswordHash != "" {
		if !strings.HasPrefix(c.StaffPasswordHash, "$2a$") &&
			!strings.HasPrefix(c.StaffPasswordHash, "$2b$") &&
			!strings.HasPrefix(c.StaffPasswordHash, "$2y$") {
			return fmt.Errorf("STAFF_PASSWORD_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <password>)")
		}
	}

	if isProduction {
		if err := validateSecret("STAFF_SESSION_SECRET", c.StaffSessionSecret); err != nil {
			return err
		}

		if c.AgentAPIToken == "" {
			log.Warn().Msg("AGENT_API_TOKEN is empty in production: ingress routes are unauthenticated")
		}
		if c.WhatsAppAppSecret == "" {
			log.Warn().Msg("WHATSAPP_APP_SECRET is empty in production: webhook signature verification disabled")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
