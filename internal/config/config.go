package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName          = "Kelo"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultAccessTTL        = 15 * time.Minute
	defaultRefreshTTL       = 7 * 24 * time.Hour
	defaultNonceTTL         = 5 * time.Minute
	defaultCurrency         = "KES"
	defaultLoanMin          = 1_000      // 10.00
	defaultLoanMax          = 50_000_000 // 500,000.00
	defaultInterestBps      = 1_500
	defaultDefaultAfterDays = 30
	defaultMerchantFeeBps   = 300
	defaultMinPayout        = 10_000 // 100.00
	defaultLoginRatePerMin  = 5
	defaultOverdueSchedule  = "@hourly"
	defaultSettleSchedule   = "0 2 * * *"
	defaultRewardsSchedule  = "0 0 * * *"
	defaultDIDNetwork       = "testnet"
	defaultMirrorURL        = "https://testnet.mirrornode.hedera.com"
	devJWTSecret            = "dev-access-secret"
	devRefreshSecret        = "dev-refresh-secret"
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	rpcEnvPrefix            = "RPC_"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	AMQPURL        string
	AutoMigrate    bool
	CORSOrigins    string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	LoginRatePerMin int

	SIWEDomain   string
	SIWENonceTTL time.Duration

	Currency         string
	LoanMinAmount    int64
	LoanMaxAmount    int64
	LoanInterestBps  int
	DefaultAfterDays int
	MerchantFeeBps   int
	MinPayoutAmount  int64

	OverdueSchedule    string
	SettlementSchedule string
	RewardsSchedule    string

	DIDNetwork      string
	DIDIssuerSeed   string
	HederaMirrorURL string
	// RPCEndpoints overrides network RPC URLs, keyed by lower-case network name (RPC_BASE -> base).
	RPCEndpoints map[string]string
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is honoured but never overrides real variables.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		AMQPURL:            os.Getenv("AMQP_URL"),
		CORSOrigins:        getEnv("CORS_ORIGINS", "*"),
		ShutdownPeriod:     defaultShutdownDelay,
		IdempotencyTTL:     defaultIdempotencyTTL,
		JWTSecret:          os.Getenv("JWT_SECRET"),
		RefreshSecret:      os.Getenv("REFRESH_SECRET"),
		SIWEDomain:         getEnv("SIWE_DOMAIN", "localhost:3000"),
		Currency:           strings.ToUpper(getEnv("CURRENCY", defaultCurrency)),
		OverdueSchedule:    getEnv("OVERDUE_SCHEDULE", defaultOverdueSchedule),
		SettlementSchedule: getEnv("SETTLEMENT_SCHEDULE", defaultSettleSchedule),
		RewardsSchedule:    getEnv("REWARDS_SCHEDULE", defaultRewardsSchedule),
		DIDNetwork:         getEnv("DID_NETWORK", defaultDIDNetwork),
		DIDIssuerSeed:      os.Getenv("DID_ISSUER_SEED"),
		HederaMirrorURL:    strings.TrimRight(getEnv("HEDERA_MIRROR_URL", defaultMirrorURL), "/"),
		RPCEndpoints:       rpcEndpoints(os.Environ()),
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = duration("ACCESS_TOKEN_TTL", defaultAccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = duration("REFRESH_TOKEN_TTL", defaultRefreshTTL); err != nil {
		return Config{}, err
	}
	if cfg.SIWENonceTTL, err = duration("SIWE_NONCE_TTL", defaultNonceTTL); err != nil {
		return Config{}, err
	}
	if cfg.AutoMigrate, err = boolean("AUTO_MIGRATE", false); err != nil {
		return Config{}, err
	}
	if cfg.LoginRatePerMin, err = integer("LOGIN_RATE_PER_MIN", defaultLoginRatePerMin); err != nil {
		return Config{}, err
	}
	if cfg.LoanInterestBps, err = integer("LOAN_INTEREST_BPS", defaultInterestBps); err != nil {
		return Config{}, err
	}
	if cfg.DefaultAfterDays, err = integer("LOAN_DEFAULT_AFTER_DAYS", defaultDefaultAfterDays); err != nil {
		return Config{}, err
	}
	if cfg.MerchantFeeBps, err = integer("MERCHANT_FEE_BPS", defaultMerchantFeeBps); err != nil {
		return Config{}, err
	}
	if cfg.LoanMinAmount, err = amount("LOAN_MIN_AMOUNT", defaultLoanMin); err != nil {
		return Config{}, err
	}
	if cfg.LoanMaxAmount, err = amount("LOAN_MAX_AMOUNT", defaultLoanMax); err != nil {
		return Config{}, err
	}
	if cfg.MinPayoutAmount, err = amount("MIN_PAYOUT_AMOUNT", defaultMinPayout); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.LoanMinAmount <= 0 || c.LoanMaxAmount < c.LoanMinAmount {
		return fmt.Errorf("invalid loan bounds: min=%d max=%d", c.LoanMinAmount, c.LoanMaxAmount)
	}
	if c.MerchantFeeBps < 0 || c.MerchantFeeBps >= 10_000 {
		return fmt.Errorf("invalid MERCHANT_FEE_BPS: %d", c.MerchantFeeBps)
	}

	if c.IsDev() {
		if c.JWTSecret == "" {
			c.JWTSecret = devJWTSecret
		}
		if c.RefreshSecret == "" {
			c.RefreshSecret = devRefreshSecret
		}
		return nil
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.JWTSecret == "" || c.RefreshSecret == "" {
		return fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set")
	}
	if c.DIDIssuerSeed == "" {
		return fmt.Errorf("DID_ISSUER_SEED must be set")
	}
	return nil
}

// IsDev reports whether the service runs in a local development environment,
// where Postgres and Redis are optional and in-memory stores are used instead.
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

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return duration(durationKey, fallback)
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func amount(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolean(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func rpcEndpoints(environ []string) map[string]string {
	out := map[string]string{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(key, rpcEnvPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, rpcEnvPrefix))
		name = strings.ReplaceAll(name, "_", "-")
		out[name] = value
	}
	return out
}
