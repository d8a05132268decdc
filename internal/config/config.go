// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/unclebandit/wa-broadcast/internal/schedule"
)

const EnvProduction = "production"

type Config struct {
	AppEnv   string `mapstructure:"APP_ENV" validate:"required"`
	Port     int    `mapstructure:"PORT" validate:"min=1,max=65535"`
	LogLevel string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFile  string `mapstructure:"LOG_FILE"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBUser      string `mapstructure:"DB_USER"`
	DBPassword  string `mapstructure:"DB_PASSWORD"`
	DBHost      string `mapstructure:"DB_HOST"`
	DBPort      string `mapstructure:"DB_PORT"`
	DBName      string `mapstructure:"DB_NAME"`

	SchedulerSecret string        `mapstructure:"SCHEDULER_SECRET"`
	BatchSize       int           `mapstructure:"BATCH_SIZE" validate:"min=1,max=500"`
	SendDelay       time.Duration `mapstructure:"SEND_DELAY" validate:"min=0"`
	ClaimLease      time.Duration `mapstructure:"CLAIM_LEASE" validate:"min=1000000000"`
	CountryCode     string        `mapstructure:"COUNTRY_CODE" validate:"required,numeric,max=4"`
	LocalUTCOffset  string        `mapstructure:"LOCAL_UTC_OFFSET"`

	WhatsAppAPIURL        string        `mapstructure:"WHATSAPP_API_URL" validate:"required,url"`
	WhatsAppAPIVersion    string        `mapstructure:"WHATSAPP_API_VERSION" validate:"required"`
	WhatsAppAccessToken   string        `mapstructure:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppPhoneNumberID string        `mapstructure:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppTimeout       time.Duration `mapstructure:"WHATSAPP_TIMEOUT" validate:"min=1000000000"`

	AMQPURL         string `mapstructure:"AMQP_URL"`
	StatusQueue     string `mapstructure:"STATUS_QUEUE" validate:"required"`
	EventsQueue     string `mapstructure:"EVENTS_QUEUE" validate:"required"`
	QueueMaxRetries int    `mapstructure:"QUEUE_MAX_RETRIES" validate:"min=0"`
}

var defaults = map[string]any{
	"APP_ENV":                  "development",
	"PORT":                     8080,
	"LOG_LEVEL":                "info",
	"LOG_FILE":                 "",
	"DATABASE_URL":             "",
	"DB_USER":                  "",
	"DB_PASSWORD":              "",
	"DB_HOST":                  "localhost",
	"DB_PORT":                  "5432",
	"DB_NAME":                  "broadcast",
	"SCHEDULER_SECRET":         "",
	"BATCH_SIZE":               30,
	"SEND_DELAY":               "100ms",
	"CLAIM_LEASE":              "10m",
	"COUNTRY_CODE":             "62",
	"LOCAL_UTC_OFFSET":         "+07:00",
	"WHATSAPP_API_URL":         "https://graph.facebook.com",
	"WHATSAPP_API_VERSION":     "v21.0",
	"WHATSAPP_ACCESS_TOKEN":    "",
	"WHATSAPP_PHONE_NUMBER_ID": "",
	"WHATSAPP_TIMEOUT":         "15s",
	"AMQP_URL":                 "",
	"STATUS_QUEUE":             "delivery_status",
	"EVENTS_QUEUE":             "campaign_events",
	"QUEUE_MAX_RETRIES":        3,
}

var structValidator = validator.New()

// Load reads configuration from an optional .env file, an optional
// config.yaml and the environment, in increasing order of precedence.
func Load() (*Config, error) {
	// .env is optional; the OS environment may carry everything.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field rules and the cross-field production requirements.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := schedule.ParseOffset(c.LocalUTCOffset); err != nil {
		return fmt.Errorf("invalid config: LOCAL_UTC_OFFSET: %w", err)
	}
	if c.IsProduction() && c.SchedulerSecret == "" {
		return errors.New("invalid config: SCHEDULER_SECRET is required in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, EnvProduction)
}

// DSN returns DATABASE_URL, or builds one from the DB_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Location returns the zone used to interpret local schedule inputs.
func (c *Config) Location() *time.Location {
	offset, err := schedule.ParseOffset(c.LocalUTCOffset)
	if err != nil {
		offset = schedule.DefaultOffset
	}
	return schedule.FixedZone(offset)
}
