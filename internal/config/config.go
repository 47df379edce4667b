package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/congo-pay/gascredit/internal/costmodel"
)

const (
	defaultAppName         = "GasCredit"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultBackend         = BackendMemory
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultTokenTTL        = time.Hour
	defaultRedeemRateLimit = 30
	defaultNotifyChannel   = "credit:events"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	tokenTTLSecondsEnvVar  = "TOKEN_TTL_SECONDS"
	tokenTTLDurEnvVar      = "TOKEN_TTL"
)

// Ledger backends selectable through LEDGER_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName         string
	AppEnv          string
	Port            string
	LogLevel        string
	LogFile         string
	LedgerBackend   string
	DatabaseURL     string
	RedisURL        string
	OwnerAccount    string
	OwnerKeyHash    string
	TokenSecret     string
	TokenTTL        time.Duration
	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	RedeemRateLimit int
	NotifyChannel   string
	ParamsFile      string
	Credit          costmodel.Params
}

// paramsFile is the layout of CREDIT_PARAMS_FILE.
type paramsFile struct {
	Credit costmodel.Params `toml:"credit"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFile:         os.Getenv("LOG_FILE"),
		LedgerBackend:   strings.ToLower(getEnv("LEDGER_BACKEND", defaultBackend)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		OwnerAccount:    os.Getenv("OWNER_ACCOUNT"),
		OwnerKeyHash:    os.Getenv("OWNER_KEY_HASH"),
		TokenSecret:     os.Getenv("TOKEN_SECRET"),
		TokenTTL:        defaultTokenTTL,
		ShutdownPeriod:  defaultShutdownDelay,
		IdempotencyTTL:  defaultIdempotencyTTL,
		RedeemRateLimit: defaultRedeemRateLimit,
		NotifyChannel:   getEnv("NOTIFY_CHANNEL", defaultNotifyChannel),
		ParamsFile:      os.Getenv("CREDIT_PARAMS_FILE"),
		Credit:          costmodel.DefaultParams(),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = durationEnv(tokenTTLSecondsEnvVar, tokenTTLDurEnvVar, cfg.TokenTTL); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("REDEEM_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REDEEM_RATE_LIMIT: %w", err)
		}
		cfg.RedeemRateLimit = n
	}

	if cfg.ParamsFile != "" {
		params, err := LoadParams(cfg.ParamsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Credit = params
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadParams decodes protocol constants from a TOML file. Keys missing from the
// file keep their default values.
func LoadParams(path string) (costmodel.Params, error) {
	file := paramsFile{Credit: costmodel.DefaultParams()}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return costmodel.Params{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := file.Credit.Validate(); err != nil {
		return costmodel.Params{}, fmt.Errorf("%s: %w", path, err)
	}
	return file.Credit, nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.LedgerBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for the %s ledger", BackendPostgres)
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set for the %s ledger", BackendRedis)
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}

	if c.OwnerAccount == "" {
		return fmt.Errorf("OWNER_ACCOUNT must be set")
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET must be set")
	}
	if c.OwnerKeyHash == "" && !c.IsDev() {
		return fmt.Errorf("OWNER_KEY_HASH must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.RedeemRateLimit < 0 {
		return fmt.Errorf("REDEEM_RATE_LIMIT must not be negative")
	}
	return c.Credit.Validate()
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
