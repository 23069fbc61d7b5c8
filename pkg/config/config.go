package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Assistant AssistantConfig `mapstructure:"assistant"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Mail      MailConfig      `mapstructure:"mail"`
	Google    GoogleConfig    `mapstructure:"google"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type AssistantConfig struct {
	Timezone                    string             `mapstructure:"timezone"`
	EmailScanIntervalMinutes    int                `mapstructure:"email_scan_interval_minutes"`
	ReminderScanIntervalMinutes int                `mapstructure:"reminder_scan_interval_minutes"`
	CalendarScanIntervalMinutes int                `mapstructure:"calendar_scan_interval_minutes"`
	RetentionDays               int                `mapstructure:"retention_days"`
	ReminderBeforeMinutes       int                `mapstructure:"reminder_before_minutes"`
	ReminderAtEventTime         bool               `mapstructure:"reminder_at_event_time"`
	ConfirmationKeywords        []string           `mapstructure:"confirmation_keywords"`
	SentReminderCap             int                `mapstructure:"sent_reminder_cap"`
	DailyMessage                DailyMessageConfig `mapstructure:"daily_message"`
	// ProfileFile is a plain-text description of the owner added to chat
	// prompts. Empty disables it.
	ProfileFile                 string             `mapstructure:"profile_file"`
}

// LoadProfile reads ProfileFile. A missing file yields an empty profile.
func (a AssistantConfig) LoadProfile() (string, error) {
	if a.ProfileFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(a.ProfileFile)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read profile file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

type DailyMessageConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Hour    int  `mapstructure:"hour"`
	Minute  int  `mapstructure:"minute"`
}

func (a AssistantConfig) EmailScanInterval() time.Duration {
	return time.Duration(a.EmailScanIntervalMinutes) * time.Minute
}

func (a AssistantConfig) ReminderScanInterval() time.Duration {
	return time.Duration(a.ReminderScanIntervalMinutes) * time.Minute
}

func (a AssistantConfig) CalendarScanInterval() time.Duration {
	return time.Duration(a.CalendarScanIntervalMinutes) * time.Minute
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// OwnerChatID restricts the bot to one chat and receives calendar
	// reminders and the daily greeting.
	OwnerChatID int64 `mapstructure:"owner_chat_id"`
}

type OpenAIConfig struct {
	APIKey           string  `mapstructure:"api_key"`
	Model            string  `mapstructure:"model"`
	BaseURL          string  `mapstructure:"base_url"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	Temperature      float64 `mapstructure:"temperature"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	FailureThreshold uint32  `mapstructure:"failure_threshold"`
	CooldownSeconds  int     `mapstructure:"cooldown_seconds"`
}

type StorageConfig struct {
	// Driver is one of "file", "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	// Dir holds the JSON documents of the file driver.
	Dir string `mapstructure:"dir"`
	// DSN overrides the connection string of the SQL drivers.
	DSN      string         `mapstructure:"dsn"`
	Database DatabaseConfig `mapstructure:"database"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString returns the DSN for the configured SQL driver.
func (s StorageConfig) ConnString() string {
	if s.DSN != "" {
		return s.DSN
	}
	switch s.Driver {
	case "sqlite":
		return strings.TrimSuffix(s.Dir, "/") + "/assistant.db"
	case "postgres":
		d := s.Database
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
	}
	return ""
}

type MailConfig struct {
	// Transport is "smtp", "gmail" or empty to disable email sending.
	Transport              string     `mapstructure:"transport"`
	SMTP                   SMTPConfig `mapstructure:"smtp"`
	FromName               string     `mapstructure:"from_name"`
	BreakerThreshold       uint32     `mapstructure:"breaker_threshold"`
	BreakerCooldownSeconds int        `mapstructure:"breaker_cooldown_seconds"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type GoogleConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
}

type MetricsConfig struct {
	// ListenAddr serves /metrics when set, e.g. ":9090".
	ListenAddr string `mapstructure:"listen_addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Validate checks the settings needed to run the bot.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram token is required (telegram.token or TELEGRAM_TOKEN)")
	}
	switch c.Storage.Driver {
	case "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Mail.Transport {
	case "", "smtp", "gmail":
	default:
		return fmt.Errorf("unknown mail transport %q", c.Mail.Transport)
	}
	if c.Assistant.DailyMessage.Hour < 0 || c.Assistant.DailyMessage.Hour > 23 ||
		c.Assistant.DailyMessage.Minute < 0 || c.Assistant.DailyMessage.Minute > 59 {
		return fmt.Errorf("invalid daily message time %02d:%02d",
			c.Assistant.DailyMessage.Hour, c.Assistant.DailyMessage.Minute)
	}
	return nil
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

// LoadConfig reads the YAML file at path, if it exists, and applies
// environment overrides on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("assistant.timezone", "Asia/Phnom_Penh")
	v.SetDefault("assistant.email_scan_interval_minutes", 1)
	v.SetDefault("assistant.reminder_scan_interval_minutes", 1)
	v.SetDefault("assistant.calendar_scan_interval_minutes", 5)
	v.SetDefault("assistant.retention_days", 7)
	v.SetDefault("assistant.reminder_before_minutes", 15)
	v.SetDefault("assistant.reminder_at_event_time", true)
	v.SetDefault("assistant.sent_reminder_cap", 1000)
	v.SetDefault("assistant.daily_message.enabled", true)
	v.SetDefault("assistant.daily_message.hour", 17)
	v.SetDefault("assistant.daily_message.minute", 10)
	v.SetDefault("assistant.profile_file", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.3)
	v.SetDefault("openai.timeout_seconds", 30)
	v.SetDefault("openai.failure_threshold", 5)
	v.SetDefault("openai.cooldown_seconds", 60)
	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.dir", "data")
	v.SetDefault("storage.database.host", "localhost")
	v.SetDefault("storage.database.port", 5432)
	v.SetDefault("storage.database.user", "postgres")
	v.SetDefault("storage.database.sslmode", "disable")
	v.SetDefault("mail.transport", "smtp")
	v.SetDefault("mail.smtp.host", "smtp.gmail.com")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.from_name", "Personal Assistant")
	v.SetDefault("mail.breaker_threshold", 3)
	v.SetDefault("mail.breaker_cooldown_seconds", 120)
	v.SetDefault("google.credentials_file", "credentials.json")
	v.SetDefault("google.token_file", "data/token.json")
	v.SetDefault("log.level", "info")

	// Enable environment variable support, e.g. ASSISTANT_TIMEZONE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Storage.Database = dbConfig
		config.Storage.Driver = "postgres"
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}
	if user := v.GetString("EMAIL_USERNAME"); user != "" {
		config.Mail.SMTP.Username = user
	}
	if password := v.GetString("EMAIL_PASSWORD"); password != "" {
		config.Mail.SMTP.Password = password
	}

	return &config, nil
}
