package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/model"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	WhatsApp WhatsAppConfig
	Dispatch DispatchConfig
	LogLevel string
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	Enabled     bool
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type WhatsAppConfig struct {
	UseBusinessAPI bool
	AccessToken    string
	PhoneNumberID  string
	APIBaseURL     string
	APIRatePerSec  int
	SessionPath    string
}

type DispatchConfig struct {
	BatchSize    int
	MessageDelay time.Duration
	BatchDelay   time.Duration
	MaxRetries   int
}

// Delivery returns the default per-call delivery config for this process.
func (c *Config) Delivery() model.DeliveryConfig {
	backend := model.BackendAutomation
	if c.WhatsApp.UseBusinessAPI {
		backend = model.BackendAPI
	}
	return model.DeliveryConfig{
		BatchSize:    c.Dispatch.BatchSize,
		MessageDelay: c.Dispatch.MessageDelay,
		BatchDelay:   c.Dispatch.BatchDelay,
		MaxRetries:   c.Dispatch.MaxRetries,
		Backend:      backend,
	}
}

// MissingBusinessCredentials names the Cloud API secrets that are not set.
// A missing secret is not a load error; the api backend reports it per
// contact instead.
func (c *Config) MissingBusinessCredentials() []string {
	var missing []string
	if c.WhatsApp.AccessToken == "" {
		missing = append(missing, "WHATSAPP_ACCESS_TOKEN")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		missing = append(missing, "WHATSAPP_PHONE_NUMBER_ID")
	}
	return missing
}

func LoadAll() (*Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := getEnvBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	pg := os.Getenv("POSTGRES_URL")

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			Enabled:     pg != "",
			PostgresURL: pg,
		},
		WhatsApp: WhatsAppConfig{
			UseBusinessAPI: boolVar("USE_WHATSAPP_BUSINESS_API", false),
			AccessToken:    os.Getenv("WHATSAPP_ACCESS_TOKEN"),
			PhoneNumberID:  os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			APIBaseURL:     getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v18.0"),
			APIRatePerSec:  intVar("WHATSAPP_API_RATE_PER_SEC", 0),
			SessionPath:    getEnv("WHATSAPP_SESSION_PATH", "./whatsapp-session"),
		},
		Dispatch: DispatchConfig{
			BatchSize:    intVar("DISPATCH_BATCH_SIZE", model.DefaultBatchSize),
			MessageDelay: time.Duration(intVar("DISPATCH_MESSAGE_DELAY_MS", 2000)) * time.Millisecond,
			BatchDelay:   time.Duration(intVar("DISPATCH_BATCH_DELAY_MS", 5000)) * time.Millisecond,
			MaxRetries:   intVar("DISPATCH_MAX_RETRIES", model.DefaultMaxRetries),
		},
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis = RedisConfig{
			Enabled:  true,
			Address:  addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intVar("REDIS_DB", 0),
			TTL:      time.Duration(intVar("REDIS_TTL_SECONDS", 86400)) * time.Second,
		}
	}

	if len(errs) == 0 {
		errs = append(errs, validate(cfg)...)
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_SIZE must be > 0"))
	}
	if cfg.Dispatch.MessageDelay <= 0 {
		errs = append(errs, errors.New("DISPATCH_MESSAGE_DELAY_MS must be > 0"))
	}
	if cfg.Dispatch.BatchDelay <= 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_DELAY_MS must be > 0"))
	}
	if cfg.Dispatch.MaxRetries <= 0 {
		errs = append(errs, errors.New("DISPATCH_MAX_RETRIES must be > 0"))
	}
	if cfg.WhatsApp.APIRatePerSec < 0 {
		errs = append(errs, errors.New("WHATSAPP_API_RATE_PER_SEC must be >= 0"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: got %q", cfg.LogLevel))
	}
	return errs
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %q", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
