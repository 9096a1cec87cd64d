package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Video Generation Control Plane - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Fabric    FabricConfig    `yaml:"fabric"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Budget    BudgetConfig    `yaml:"budget"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Streaming StreamingConfig `yaml:"streaming"`
	Media     MediaConfig     `yaml:"media"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	Interface        string   `yaml:"interface"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// DatabaseConfig selects and configures the Store Gateway backend.
type DatabaseConfig struct {
	Backend  string         `yaml:"backend"` // supabase, postgres, memory
	Supabase SupabaseConfig `yaml:"supabase"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// FabricConfig configures the Cache/Broker Gateway (Redis-backed).
type FabricConfig struct {
	Backend  string `yaml:"backend"` // redis, memory
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SecurityConfig configures the Token Validator.
type SecurityConfig struct {
	HMACSecret   string `yaml:"hmac_secret"`
	CacheTTLSec  int    `yaml:"cache_ttl_sec"`
	CacheMaxSize int    `yaml:"cache_max_size"`
}

// RateLimitConfig configures the sliding-window Rate Limiter.
type RateLimitConfig struct {
	WindowSec   int    `yaml:"window_sec"`
	MaxRequests int    `yaml:"max_requests"`
	FailPolicy  string `yaml:"fail_policy"` // open, closed
}

// BudgetConfig configures the Cost Ledger's budget limits and per-minute
// cost estimates, which vary by deployment environment.
type BudgetConfig struct {
	ProdStagingLimitUSD     float64 `yaml:"prod_staging_limit_usd"`
	DevLimitUSD             float64 `yaml:"dev_limit_usd"`
	ProdStagingCostPerMin   float64 `yaml:"prod_staging_cost_per_minute_usd"`
	DevCostPerMin           float64 `yaml:"dev_cost_per_minute_usd"`
	DevCostFloorUSD         float64 `yaml:"dev_cost_floor_usd"`
	ShardCount              int     `yaml:"shard_count"`
}

// QueueConfig configures the Job Queue.
type QueueConfig struct {
	QueueKey      string `yaml:"queue_key"`
	PayloadTTLSec int    `yaml:"payload_ttl_sec"`
}

// WorkerConfig configures the Worker Pool.
type WorkerConfig struct {
	Concurrency    int `yaml:"concurrency"`
	PopTimeoutSec  int `yaml:"pop_timeout_sec"`
}

// StreamingConfig configures the SSE Hub.
type StreamingConfig struct {
	MaxConnectionsPerJob int `yaml:"max_connections_per_job"`
	HeartbeatSec         int `yaml:"heartbeat_sec"`
	StaleTimeoutSec      int `yaml:"stale_timeout_sec"`
}

// MediaConfig points at the out-of-scope media/analysis collaborators.
type MediaConfig struct {
	AnalysisURL    string `yaml:"analysis_url"`
	PlanningURL    string `yaml:"planning_url"`
	ReferencesURL  string `yaml:"references_url"`
	PromptingURL   string `yaml:"prompting_url"`
	GenerationURL  string `yaml:"generation_url"`
	CompositionURL string `yaml:"composition_url"`
	ObjectStoreURL string `yaml:"object_store_url"`
	TimeoutSec     int    `yaml:"timeout_sec"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	// Server
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("APP_ENV", c.Server.Env)
	c.Server.Interface = getEnv("APP_INTERFACE", c.Server.Interface)
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	// Database
	c.Database.Backend = getEnv("DATABASE_BACKEND", c.Database.Backend)
	c.Database.Supabase.URL = getEnv("SUPABASE_URL", c.Database.Supabase.URL)
	c.Database.Supabase.ServiceKey = getEnv("SUPABASE_SERVICE_KEY", c.Database.Supabase.ServiceKey)
	c.Database.Postgres.DSN = getEnv("POSTGRES_DSN", c.Database.Postgres.DSN)

	// Fabric (Redis)
	c.Fabric.Backend = getEnv("FABRIC_BACKEND", c.Fabric.Backend)
	c.Fabric.Addr = getEnv("REDIS_ADDR", c.Fabric.Addr)
	c.Fabric.Password = getEnv("REDIS_PASSWORD", c.Fabric.Password)
	if v := getEnvInt("REDIS_DB", -1); v >= 0 {
		c.Fabric.DB = v
	}
	c.Fabric.Prefix = getEnv("FABRIC_PREFIX", c.Fabric.Prefix)

	// Security
	c.Security.HMACSecret = getEnv("TOKEN_HMAC_SECRET", c.Security.HMACSecret)
	if v := getEnvInt("TOKEN_CACHE_TTL_SEC", 0); v > 0 {
		c.Security.CacheTTLSec = v
	}
	if v := getEnvInt("TOKEN_CACHE_MAX_SIZE", 0); v > 0 {
		c.Security.CacheMaxSize = v
	}

	// Rate limiting
	if v := getEnvInt("RATE_LIMIT_WINDOW_SEC", 0); v > 0 {
		c.RateLimit.WindowSec = v
	}
	if v := getEnvInt("RATE_LIMIT_MAX_REQUESTS", 0); v > 0 {
		c.RateLimit.MaxRequests = v
	}
	c.RateLimit.FailPolicy = getEnv("RATE_LIMIT_FAIL_POLICY", c.RateLimit.FailPolicy)

	// Budget
	if v := getEnvFloat("BUDGET_PROD_STAGING_LIMIT_USD", 0); v > 0 {
		c.Budget.ProdStagingLimitUSD = v
	}
	if v := getEnvFloat("BUDGET_DEV_LIMIT_USD", 0); v > 0 {
		c.Budget.DevLimitUSD = v
	}
	if v := getEnvFloat("BUDGET_PROD_STAGING_COST_PER_MINUTE_USD", 0); v > 0 {
		c.Budget.ProdStagingCostPerMin = v
	}
	if v := getEnvFloat("BUDGET_DEV_COST_PER_MINUTE_USD", 0); v > 0 {
		c.Budget.DevCostPerMin = v
	}
	if v := getEnvFloat("BUDGET_DEV_COST_FLOOR_USD", 0); v > 0 {
		c.Budget.DevCostFloorUSD = v
	}
	if v := getEnvInt("BUDGET_SHARD_COUNT", 0); v > 0 {
		c.Budget.ShardCount = v
	}

	// Queue
	c.Queue.QueueKey = getEnv("QUEUE_KEY", c.Queue.QueueKey)
	if v := getEnvInt("QUEUE_PAYLOAD_TTL_SEC", 0); v > 0 {
		c.Queue.PayloadTTLSec = v
	}

	// Worker
	if v := getEnvInt("WORKER_CONCURRENCY", 0); v > 0 {
		c.Worker.Concurrency = v
	}
	if v := getEnvInt("WORKER_POP_TIMEOUT_SEC", 0); v > 0 {
		c.Worker.PopTimeoutSec = v
	}

	// Streaming
	if v := getEnvInt("STREAMING_MAX_CONNECTIONS_PER_JOB", 0); v > 0 {
		c.Streaming.MaxConnectionsPerJob = v
	}
	if v := getEnvInt("STREAMING_HEARTBEAT_SEC", 0); v > 0 {
		c.Streaming.HeartbeatSec = v
	}
	if v := getEnvInt("STREAMING_STALE_TIMEOUT_SEC", 0); v > 0 {
		c.Streaming.StaleTimeoutSec = v
	}

	// Media collaborators
	c.Media.AnalysisURL = getEnv("MEDIA_ANALYSIS_URL", c.Media.AnalysisURL)
	c.Media.PlanningURL = getEnv("MEDIA_PLANNING_URL", c.Media.PlanningURL)
	c.Media.ReferencesURL = getEnv("MEDIA_REFERENCES_URL", c.Media.ReferencesURL)
	c.Media.PromptingURL = getEnv("MEDIA_PROMPTING_URL", c.Media.PromptingURL)
	c.Media.GenerationURL = getEnv("MEDIA_GENERATION_URL", c.Media.GenerationURL)
	c.Media.CompositionURL = getEnv("MEDIA_COMPOSITION_URL", c.Media.CompositionURL)
	c.Media.ObjectStoreURL = getEnv("OBJECT_STORE_URL", c.Media.ObjectStoreURL)
	if v := getEnvInt("MEDIA_TIMEOUT_SEC", 0); v > 0 {
		c.Media.TimeoutSec = v
	}

	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}

	if c.Database.Backend == "" {
		c.Database.Backend = "supabase"
	}

	if c.Fabric.Backend == "" {
		c.Fabric.Backend = "redis"
	}
	if c.Fabric.Addr == "" {
		c.Fabric.Addr = "localhost:6379"
	}
	if c.Fabric.Prefix == "" {
		c.Fabric.Prefix = "videogen"
	}

	if c.Security.CacheTTLSec == 0 {
		c.Security.CacheTTLSec = 300
	}
	if c.Security.CacheMaxSize == 0 {
		c.Security.CacheMaxSize = 10000
	}

	if c.RateLimit.WindowSec == 0 {
		c.RateLimit.WindowSec = 3600
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 5
	}
	if c.RateLimit.FailPolicy == "" {
		c.RateLimit.FailPolicy = "open"
	}

	if c.Budget.ProdStagingLimitUSD == 0 {
		c.Budget.ProdStagingLimitUSD = 2000.00
	}
	if c.Budget.DevLimitUSD == 0 {
		c.Budget.DevLimitUSD = 50.00
	}
	if c.Budget.ProdStagingCostPerMin == 0 {
		c.Budget.ProdStagingCostPerMin = 200.00
	}
	if c.Budget.DevCostPerMin == 0 {
		c.Budget.DevCostPerMin = 1.50
	}
	if c.Budget.DevCostFloorUSD == 0 {
		c.Budget.DevCostFloorUSD = 2.00
	}
	if c.Budget.ShardCount == 0 {
		c.Budget.ShardCount = 64
	}

	if c.Queue.QueueKey == "" {
		c.Queue.QueueKey = "queue:video_generation"
	}
	if c.Queue.PayloadTTLSec == 0 {
		c.Queue.PayloadTTLSec = 900
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 3
	}
	if c.Worker.PopTimeoutSec == 0 {
		c.Worker.PopTimeoutSec = 5
	}

	if c.Streaming.MaxConnectionsPerJob == 0 {
		c.Streaming.MaxConnectionsPerJob = 10
	}
	if c.Streaming.HeartbeatSec == 0 {
		c.Streaming.HeartbeatSec = 30
	}
	if c.Streaming.StaleTimeoutSec == 0 {
		c.Streaming.StaleTimeoutSec = 60
	}

	if c.Media.TimeoutSec == 0 {
		c.Media.TimeoutSec = 30
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsStaging() bool {
	return c.Server.Env == "staging"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}

// BudgetLimitUSD returns the total per-job budget for the current environment.
func (c *Config) BudgetLimitUSD() float64 {
	if c.IsDevelopment() {
		return c.Budget.DevLimitUSD
	}
	return c.Budget.ProdStagingLimitUSD
}

// CostPerMinuteUSD returns the generation cost-per-minute rate for the
// current environment.
func (c *Config) CostPerMinuteUSD() float64 {
	if c.IsDevelopment() {
		return c.Budget.DevCostPerMin
	}
	return c.Budget.ProdStagingCostPerMin
}

// EstimateGenerationCostUSD estimates the cost of a generation stage given
// the requested clip duration, applying the dev-environment cost floor.
func (c *Config) EstimateGenerationCostUSD(durationMinutes float64) float64 {
	estimate := durationMinutes * c.CostPerMinuteUSD()
	if c.IsDevelopment() && estimate < c.Budget.DevCostFloorUSD {
		return c.Budget.DevCostFloorUSD
	}
	return estimate
}

// GetSupabaseURL returns the Supabase URL.
func (c *Config) GetSupabaseURL() string {
	return c.Database.Supabase.URL
}

// GetSupabaseKey returns the Supabase service key.
func (c *Config) GetSupabaseKey() string {
	return c.Database.Supabase.ServiceKey
}
