package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/aniiisha-23/alertiq/internal/model"
)

// Config holds all configuration for the application
type Config struct {
	Gmail      GmailConfig      `mapstructure:"gmail"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Teams      TeamsConfig      `mapstructure:"teams"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Log        LogConfig        `mapstructure:"log"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Server     ServerConfig     `mapstructure:"server"`
}

// GmailConfig holds mail-source credentials. OAuth2 against the Gmail
// API is the default; IMAP is an alternative transport.
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
	UseIMAP      bool   `mapstructure:"use_imap"`
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`
}

// GeminiConfig holds classifier oracle configuration
type GeminiConfig struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

// SMTPConfig holds mail-sink configuration
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// Addr returns the host:port dial address for the SMTP server.
func (c *SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Sender returns the envelope sender, defaulting to the SMTP username.
func (c *SMTPConfig) Sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}

// TeamsConfig maps each action to a team mailbox
type TeamsConfig struct {
	Rehit   string `mapstructure:"rehit"`
	Backend string `mapstructure:"backend"`
	Code    string `mapstructure:"code"`
}

// Routes returns the action-to-mailbox map. An address missing for any
// of the three actions is a configuration error.
func (c *TeamsConfig) Routes() (map[model.Action]string, error) {
	routes := map[model.Action]string{
		model.ActionRehit:   c.Rehit,
		model.ActionBackend: c.Backend,
		model.ActionCode:    c.Code,
	}
	for _, action := range model.Actions() {
		if routes[action] == "" {
			return nil, fmt.Errorf("no team address configured for action %q", action)
		}
	}
	return routes, nil
}

// LedgerConfig holds audit-store configuration
type LedgerConfig struct {
	Path string `mapstructure:"path"`
	// AllowReset starts with an empty ledger when the existing file is
	// unreadable instead of refusing to start.
	AllowReset bool `mapstructure:"allow_reset"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// ProcessingConfig holds pipeline and scheduling configuration
type ProcessingConfig struct {
	IntervalMinutes   int `mapstructure:"interval_minutes"`
	MaxBatchSize      int `mapstructure:"max_batch_size"`
	RetryAttempts     int `mapstructure:"retry_attempts"`
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds"`
	RetentionDays     int `mapstructure:"retention_days"`
	// MaxMessageAttempts bounds redelivery of a message whose summary
	// repeatedly fails to send. 0 retries on every pass.
	MaxMessageAttempts int `mapstructure:"max_message_attempts"`
}

// RetryDelay returns the base backoff delay between retry attempts.
func (c *ProcessingConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// ServerConfig holds the daemon-mode admin HTTP server configuration
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// Load loads configuration from an optional config file and
// environment variables, with env vars taking precedence.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("gmail.use_imap", false)
	viper.SetDefault("gmail.imap_host", "imap.gmail.com")
	viper.SetDefault("gmail.imap_port", 993)

	viper.SetDefault("gemini.model", "gemini-1.5-flash")
	viper.SetDefault("gemini.requests_per_minute", 60)
	viper.SetDefault("gemini.timeout_seconds", 60)

	viper.SetDefault("smtp.host", "smtp.gmail.com")
	viper.SetDefault("smtp.port", 587)

	viper.SetDefault("ledger.path", "data/processed_emails.csv")
	viper.SetDefault("ledger.allow_reset", false)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "logs/alertiq.log")
	viper.SetDefault("log.max_size_mb", 50)
	viper.SetDefault("log.max_age_days", 30)
	viper.SetDefault("log.max_backups", 5)

	viper.SetDefault("processing.interval_minutes", 5)
	viper.SetDefault("processing.max_batch_size", 10)
	viper.SetDefault("processing.retry_attempts", 3)
	viper.SetDefault("processing.retry_delay_seconds", 5)
	viper.SetDefault("processing.retention_days", 90)
	viper.SetDefault("processing.max_message_attempts", 0)

	viper.SetDefault("server.port", "8080")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	viper.BindEnv("gmail.user_email", "GMAIL_USER_EMAIL")
	viper.BindEnv("gmail.use_imap", "GMAIL_USE_IMAP")
	viper.BindEnv("gmail.imap_host", "GMAIL_IMAP_HOST")
	viper.BindEnv("gmail.imap_port", "GMAIL_IMAP_PORT")
	viper.BindEnv("gmail.imap_user", "GMAIL_IMAP_USER")
	viper.BindEnv("gmail.imap_password", "GMAIL_IMAP_PASSWORD")

	viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("gemini.model", "GEMINI_MODEL")
	viper.BindEnv("gemini.requests_per_minute", "GEMINI_REQUESTS_PER_MINUTE")
	viper.BindEnv("gemini.timeout_seconds", "GEMINI_TIMEOUT_SECONDS")

	viper.BindEnv("smtp.host", "SMTP_SERVER")
	viper.BindEnv("smtp.port", "SMTP_PORT")
	viper.BindEnv("smtp.username", "SMTP_USERNAME")
	viper.BindEnv("smtp.password", "SMTP_PASSWORD")
	viper.BindEnv("smtp.from", "SMTP_FROM")

	viper.BindEnv("teams.rehit", "REHIT_TEAM_EMAIL")
	viper.BindEnv("teams.backend", "BACKEND_TEAM_EMAIL")
	viper.BindEnv("teams.code", "CODE_TEAM_EMAIL")

	viper.BindEnv("ledger.path", "DATABASE_PATH")
	viper.BindEnv("ledger.allow_reset", "DATABASE_ALLOW_RESET")

	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.file", "LOG_FILE")

	viper.BindEnv("processing.interval_minutes", "CHECK_INTERVAL_MINUTES")
	viper.BindEnv("processing.max_batch_size", "MAX_EMAILS_PER_BATCH")
	viper.BindEnv("processing.retry_attempts", "RETRY_ATTEMPTS")
	viper.BindEnv("processing.retry_delay_seconds", "RETRY_DELAY_SECONDS")
	viper.BindEnv("processing.retention_days", "RETENTION_DAYS")
	viper.BindEnv("processing.max_message_attempts", "MAX_MESSAGE_ATTEMPTS")

	viper.BindEnv("server.port", "SERVER_PORT")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Gmail.UseIMAP {
		if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" || c.Gmail.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
		}
		if c.Gmail.UserEmail == "" {
			return fmt.Errorf("Gmail user email is required")
		}
	} else {
		if c.Gmail.IMAPUser == "" || c.Gmail.IMAPPassword == "" {
			return fmt.Errorf("IMAP credentials are required when using IMAP")
		}
	}

	if c.Gemini.APIKey == "" {
		return fmt.Errorf("Gemini API key is required")
	}

	if c.SMTP.Host == "" || c.SMTP.Username == "" || c.SMTP.Password == "" {
		return fmt.Errorf("SMTP host, username, and password are required")
	}

	if _, err := c.Teams.Routes(); err != nil {
		return err
	}

	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required")
	}

	if c.Processing.IntervalMinutes <= 0 {
		return fmt.Errorf("processing interval must be greater than 0")
	}
	if c.Processing.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be greater than 0")
	}
	if c.Processing.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}

	return nil
}
