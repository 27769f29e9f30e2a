package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// FileName is the default configuration file, looked up in the working directory.
const FileName = "brandgallery.json"

// DefaultAdminLimit is the ceiling on self-service admin accounts. It sizes the
// operator team; it is not an authorization policy.
const DefaultAdminLimit = 7

// EmailConfig holds SMTP settings for delivering password reset links
type EmailConfig struct {
	SMTPHost string `json:"smtp_host,omitempty"`
	SMTPPort int    `json:"smtp_port,omitempty"`
	SMTPUser string `json:"smtp_user,omitempty"`
	SMTPPass string `json:"smtp_pass,omitempty"`
	From     string `json:"from,omitempty"`
	StartTLS bool   `json:"starttls,omitempty"`

	// Capture mode runs a local SMTP sink and delivers reset mails to it
	CaptureMode bool `json:"capture_mode,omitempty"`
	CapturePort int  `json:"capture_port,omitempty"`
}

// Enabled reports whether reset mails should go out over SMTP.
func (e *EmailConfig) Enabled() bool {
	return e != nil && (e.SMTPHost != "" || e.CaptureMode)
}

// StoreConfig selects and configures the credential store
type StoreConfig struct {
	// Driver is one of "file", "sqlite" or "postgres"
	Driver string `json:"driver,omitempty"`

	// DSN is the sqlite path or postgres connection string. Empty means
	// a default under the data directory (sqlite) or the embedded database (postgres).
	DSN string `json:"dsn,omitempty"`

	// Embedded starts a local PostgreSQL when the postgres driver has no DSN
	Embedded   bool   `json:"embedded,omitempty"`
	PGPort     uint16 `json:"pg_port,omitempty"`
	PGUsername string `json:"pg_username,omitempty"`
	PGPassword string `json:"pg_password,omitempty"`
	PGDatabase string `json:"pg_database,omitempty"`
}

// Config holds the complete brandgallery configuration
type Config struct {
	// Server settings
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	DataDir    string `json:"data_dir,omitempty"`
	SiteURL    string `json:"site_url,omitempty"`
	Production bool   `json:"production,omitempty"`
	LogLevel   string `json:"log_level,omitempty"`
	LogFormat  string `json:"log_format,omitempty"`

	// Auth settings
	SessionSecret      string   `json:"session_secret,omitempty"`
	AdminLimit         int      `json:"admin_limit,omitempty"`
	ShowResetLink      bool     `json:"show_reset_link,omitempty"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute,omitempty"`
	StoreTimeoutSecs   int      `json:"store_timeout_seconds,omitempty"`
	AllowedOrigins     []string `json:"allowed_origins,omitempty"`

	Store *StoreConfig `json:"store,omitempty"`
	Email *EmailConfig `json:"email,omitempty"`
}

// StoreTimeout returns the per-request deadline for credential store calls.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSecs) * time.Second
}

// LoadFile loads configuration from path (if it exists) with fallback to
// environment variables. The file takes precedence for any fields that are set.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	applyEnvFallbacks(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// Save writes cfg as indented JSON to path.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	// the file may carry the session secret and SMTP password
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvFallbacks applies environment variable values to any unset config fields
func applyEnvFallbacks(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = getEnv("BRANDGALLERY_HOST", "")
	}
	if cfg.Port == 0 {
		cfg.Port = getEnvInt("BRANDGALLERY_PORT", 0)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = getEnv("BRANDGALLERY_DATA_DIR", "")
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = getEnv("BRANDGALLERY_SITE_URL", "")
	}
	if !cfg.Production {
		cfg.Production = getEnvBool("BRANDGALLERY_PRODUCTION")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = getEnv("BRANDGALLERY_LOG_LEVEL", "")
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = getEnv("BRANDGALLERY_LOG_FORMAT", "")
	}

	if cfg.SessionSecret == "" {
		cfg.SessionSecret = getEnv("BRANDGALLERY_SESSION_SECRET", "")
	}
	if cfg.AdminLimit == 0 {
		cfg.AdminLimit = getEnvInt("BRANDGALLERY_ADMIN_LIMIT", 0)
	}
	if !cfg.ShowResetLink {
		cfg.ShowResetLink = getEnvBool("BRANDGALLERY_SHOW_RESET_LINK")
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = getEnvInt("BRANDGALLERY_RATE_LIMIT_PER_MINUTE", 0)
	}
	if cfg.StoreTimeoutSecs == 0 {
		cfg.StoreTimeoutSecs = getEnvInt("BRANDGALLERY_STORE_TIMEOUT_SECONDS", 0)
	}
	if len(cfg.AllowedOrigins) == 0 {
		if v := getEnv("BRANDGALLERY_ALLOWED_ORIGINS", ""); v != "" {
			for _, o := range strings.Split(v, ",") {
				if o = strings.TrimSpace(o); o != "" {
					cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
				}
			}
		}
	}

	if cfg.Store == nil {
		cfg.Store = &StoreConfig{}
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = getEnv("BRANDGALLERY_STORE_DRIVER", "")
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = getEnv("BRANDGALLERY_STORE_DSN", "")
	}
	if !cfg.Store.Embedded {
		cfg.Store.Embedded = getEnvBool("BRANDGALLERY_PG_EMBEDDED")
	}
	if cfg.Store.PGPort == 0 {
		cfg.Store.PGPort = uint16(getEnvInt("BRANDGALLERY_PG_PORT", 0))
	}
	if cfg.Store.PGUsername == "" {
		cfg.Store.PGUsername = getEnv("BRANDGALLERY_PG_USERNAME", "")
	}
	if cfg.Store.PGPassword == "" {
		cfg.Store.PGPassword = getEnv("BRANDGALLERY_PG_PASSWORD", "")
	}
	if cfg.Store.PGDatabase == "" {
		cfg.Store.PGDatabase = getEnv("BRANDGALLERY_PG_DATABASE", "")
	}

	if cfg.Email == nil {
		cfg.Email = &EmailConfig{}
	}
	if cfg.Email.SMTPHost == "" {
		cfg.Email.SMTPHost = getEnv("BRANDGALLERY_SMTP_HOST", "")
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = getEnvInt("BRANDGALLERY_SMTP_PORT", 0)
	}
	if cfg.Email.SMTPUser == "" {
		cfg.Email.SMTPUser = getEnv("BRANDGALLERY_SMTP_USER", "")
	}
	if cfg.Email.SMTPPass == "" {
		cfg.Email.SMTPPass = getEnv("BRANDGALLERY_SMTP_PASS", "")
	}
	if cfg.Email.From == "" {
		cfg.Email.From = getEnv("BRANDGALLERY_SMTP_FROM", "")
	}
	if !cfg.Email.StartTLS {
		cfg.Email.StartTLS = getEnvBool("BRANDGALLERY_SMTP_STARTTLS")
	}
	if !cfg.Email.CaptureMode {
		cfg.Email.CaptureMode = getEnvBool("BRANDGALLERY_CAPTURE_MODE")
	}
	if cfg.Email.CapturePort == 0 {
		cfg.Email.CapturePort = getEnvInt("BRANDGALLERY_CAPTURE_PORT", 0)
	}
}

// setDefaults sets default values for any empty fields
func setDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.AdminLimit <= 0 {
		cfg.AdminLimit = DefaultAdminLimit
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 20
	}
	if cfg.StoreTimeoutSecs <= 0 {
		cfg.StoreTimeoutSecs = 5
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "file"
	}
	if cfg.Store.PGPort == 0 {
		cfg.Store.PGPort = 5432
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = 587
	}
	if cfg.Email.CapturePort == 0 {
		cfg.Email.CapturePort = 1025
	}
	if cfg.Email.From == "" {
		cfg.Email.From = "no-reply@localhost"
	}
}

// getEnv gets an environment variable or returns the default value
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt gets an environment variable as an integer or returns the default value
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var intVal int
		if _, err := fmt.Sscanf(val, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvBool treats "1" and "true" (any case) as true
func getEnvBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true":
		return true
	}
	return false
}
