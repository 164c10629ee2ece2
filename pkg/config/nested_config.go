package config

// EngineConfig is the top-level config.yml shape: exchange credentials,
// the symbol universe, the parameter tree, and ambient concerns (safety,
// telemetry). Secrets (ApiKey/ApiSecret/Passphrase) are never populated
// from this file directly — see Load, which overlays them from the
// environment after parsing.
type EngineConfig struct {
	Exchange   ExchangeConfig     `yaml:"exchange"`
	Symbols    []SymbolConfig     `yaml:"symbols"`
	Parameters RawParams          `yaml:"parameters"`
	Safety     SafetyConfig       `yaml:"safety"`
	Telemetry  TelemetryConfig    `yaml:"telemetry"`
}

// ExchangeConfig describes the OKX endpoint and credentials. ApiKey,
// ApiSecret and Passphrase are intentionally left without yaml tags that
// would invite committing them to config.yml; Load populates them from
// OKX_API_KEY / OKX_API_SECRET / OKX_PASSPHRASE via godotenv.
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	RESTURL    string `yaml:"rest_url"`
	WSPublic   string `yaml:"ws_public_url"`
	WSPrivate  string `yaml:"ws_private_url"`
	Testnet    bool   `yaml:"testnet"`
	ApiKey     string `yaml:"-"`
	ApiSecret  string `yaml:"-"`
	Passphrase string `yaml:"-"`
}

// SymbolConfig enables a symbol and carries its per-instrument sizing
// knobs that are not part of the resolved ParameterRecord (those belong in
// Parameters, since they vary by regime; these don't).
type SymbolConfig struct {
	Symbol         string  `yaml:"symbol"`
	Enabled        bool    `yaml:"enabled"`
	QuoteCurrency  string  `yaml:"quote_currency"`
	MaxPositionPct float64 `yaml:"max_position_pct"`
}

// SafetyConfig tunes the circuit breaker and REST concurrency limiter
// shared across all exchange calls.
type SafetyConfig struct {
	CircuitBreakerFailureThreshold int     `yaml:"circuit_breaker_failure_threshold"`
	CircuitBreakerResetSeconds     int     `yaml:"circuit_breaker_reset_seconds"`
	RESTConcurrencyLimit           int     `yaml:"rest_concurrency_limit"`
	RESTRefillPerSecond            int     `yaml:"rest_refill_per_second"`
	MaxTotalExposurePct            float64 `yaml:"max_total_exposure_pct"`
}

// TelemetryConfig controls structured logging and the metrics endpoint.
type TelemetryConfig struct {
	LogDir         string `yaml:"log_dir"`
	Debug          bool   `yaml:"debug"`
	MetricsAddr    string `yaml:"metrics_addr"`
	HealthAddr     string `yaml:"health_addr"`
}
