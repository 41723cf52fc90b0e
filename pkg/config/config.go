package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the core runtime configuration for the routing backend.
// It supports environment-based initialization, with sensible defaults.
type Config struct {
	ServiceName string // e.g. "routing-backend"
	Env         string // e.g. "dev", "uat", "prod"
	LogLevel    string // "debug", "info", etc.
	Port        int

	RedisAddr string // e.g. localhost:6379
	RedisDB   int
	RedisPass string
	NATSURL   string // e.g. nats://localhost:4222
	AWSRegion string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int

	// Prefetch cadences. The slow tier is floored at 58s so rate-limited FX
	// feeds are never polled faster than their providers allow.
	FastPrefetchPeriod time.Duration
	SlowPrefetchPeriod time.Duration

	// Provider behavior
	ProviderHTTPTimeout time.Duration // per-request timeout for FX feeds
	FXPairPacing        time.Duration // minimum spacing between pair fetches
	FXBaseURL           string
	FXAPIKeySecret      string // Secrets Manager name holding the FX API key
	FXPairs             []string
	DEXStreamURL        string // websocket price stream; empty disables

	// Pipeline TTLs
	ProvisionalTTL time.Duration
	ReservedTTL    time.Duration
	DepositTTL     time.Duration
	ExecutionTTL   time.Duration

	// Scoring tables. Keys are "FROM/TO" pairs; values are daily volatility.
	VolatilityParams     map[string]float64
	DefaultDailyVol      float64
	CounterpartyDefaults map[string]float64 // per-venue default risk
	DefaultIntermediates []string

	// Bank account fixtures keyed by payment method, used to fill deposit
	// instructions. Real deployments resolve these from treasury config.
	PixKey         string
	SpeiClabe      string
	BankAccount    string
	BankName       string
	BankRouting    string
	MerchantName   string
	MerchantCity   string

	// Secret cache
	CacheTTL    time.Duration
	CleanupFreq time.Duration

	// Optional execution history ledger (Postgres). Empty disables.
	HistoryDatabaseURL string

	// Webhook signature validation for the deposit notifier. Empty disables.
	DepositWebhookSecret    string
	DepositWebhookSigHeader string
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: GetEnv("SERVICE_NAME", "routing-backend"),
		Env:         GetEnv("ENV", "dev"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		Port:        GetEnvInt("ROUTING_PORT", 9030),

		RedisAddr: GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   GetEnvInt("REDIS_DB", 0),
		RedisPass: GetEnv("REDIS_PASS", ""),
		NATSURL:   GetEnv("NATS_URL", "nats://localhost:4222"),
		AWSRegion: GetEnv("AWS_REGION", "us-east-2"),

		HTTPReadTimeout:  GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),

		FastPrefetchPeriod: GetEnvDuration("FAST_PREFETCH_PERIOD", 30*time.Second),
		SlowPrefetchPeriod: GetEnvDuration("SLOW_PREFETCH_PERIOD", 60*time.Second),

		ProviderHTTPTimeout: GetEnvDuration("PROVIDER_HTTP_TIMEOUT", 5*time.Second),
		FXPairPacing:        GetEnvDuration("FX_PAIR_PACING", 1200*time.Millisecond),
		FXBaseURL:           GetEnv("FX_BASE_URL", "https://api.fxrates.example.com"),
		FXAPIKeySecret:      GetEnv("FX_API_KEY_SECRET", ""),
		FXPairs:             splitCSV(GetEnv("FX_PAIRS", "USD:BRL,USD:MXN,EUR:USD")),
		DEXStreamURL:        GetEnv("DEX_STREAM_URL", ""),

		ProvisionalTTL: GetEnvDuration("PROVISIONAL_TTL", 15*time.Second),
		ReservedTTL:    GetEnvDuration("RESERVED_TTL", 300*time.Second),
		DepositTTL:     GetEnvDuration("DEPOSIT_TTL", 3600*time.Second),
		ExecutionTTL:   GetEnvDuration("EXECUTION_TTL", 86400*time.Second),

		VolatilityParams:     defaultVolatilityParams(),
		DefaultDailyVol:      GetEnvFloat("DEFAULT_DAILY_VOL", 0.005),
		CounterpartyDefaults: defaultCounterpartyRisk(),
		DefaultIntermediates: splitCSV(GetEnv("DEFAULT_INTERMEDIATES", "USDC,USDT,EURC")),

		PixKey:       GetEnv("TREASURY_PIX_KEY", "treasury@bearing.example"),
		SpeiClabe:    GetEnv("TREASURY_SPEI_CLABE", "646180157000000004"),
		BankAccount:  GetEnv("TREASURY_BANK_ACCOUNT", "0012345678"),
		BankName:     GetEnv("TREASURY_BANK_NAME", "Bearing Treasury Bank"),
		BankRouting:  GetEnv("TREASURY_BANK_ROUTING", "026009593"),
		MerchantName: GetEnv("TREASURY_MERCHANT_NAME", "BEARING PAYMENTS"),
		MerchantCity: GetEnv("TREASURY_MERCHANT_CITY", "SAO PAULO"),

		CacheTTL:    GetEnvDuration("CACHE_TTL", 24*time.Hour),
		CleanupFreq: GetEnvDuration("CACHE_CLEANUP_FREQ", 10*time.Minute),

		HistoryDatabaseURL: GetEnv("HISTORY_DATABASE_URL", ""),

		DepositWebhookSecret:    GetEnv("DEPOSIT_WEBHOOK_SECRET", ""),
		DepositWebhookSigHeader: GetEnv("DEPOSIT_WEBHOOK_SIGNATURE_HEADER", "X-Deposit-Signature"),
	}

	if cfg.SlowPrefetchPeriod < 58*time.Second {
		cfg.SlowPrefetchPeriod = 58 * time.Second
	}

	return cfg
}

// defaultVolatilityParams enumerates recognized currency pairs and their
// daily volatility. Unlisted pairs fall back to DefaultDailyVol.
func defaultVolatilityParams() map[string]float64 {
	return map[string]float64{
		"BRL/USDC":  0.008,
		"USDC/BRL":  0.008,
		"MXN/USDC":  0.007,
		"USDC/MXN":  0.007,
		"NGN/USDC":  0.015,
		"USDC/NGN":  0.015,
		"USDC/EUR":  0.004,
		"EUR/USDC":  0.004,
		"USDC/EURC": 0.001,
		"EURC/USDC": 0.001,
		"USDC/USDT": 0.0005,
		"USDT/USDC": 0.0005,
		"EURC/EUR":  0.001,
		"EUR/EURC":  0.001,
		"BRL/EUR":   0.009,
		"EUR/BRL":   0.009,
		"USD/BRL":   0.008,
		"BRL/USD":   0.008,
		"USD/MXN":   0.007,
		"MXN/USD":   0.007,
	}
}

func defaultCounterpartyRisk() map[string]float64 {
	return map[string]float64{
		"otc:braza": 0.001,
		"otc:rio":   0.0008,
		"otc:xfx":   0.0012,
		"fx:spot":   0.0005,
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
