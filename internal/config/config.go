package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Locator backends
const (
	LocatorRandom = "random"
	LocatorIPAPI  = "ipapi"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	App           AppConfig           `yaml:"app"`
	Observability ObservabilityConfig `yaml:"observability"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Broker        BrokerConfig        `yaml:"broker"`
	Locator       LocatorConfig       `yaml:"locator"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Maintenance   MaintenanceConfig   `yaml:"maintenance"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustedProxies lists the IPs or CIDRs allowed to set X-Forwarded-For.
	// Empty means the peer address is always the client address.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	BaseURL                string `yaml:"base_url"` // Base URL for generating short links
	ShortCodeLen           int    `yaml:"short_code_length"`
	ShortCodeRetries       int    `yaml:"short_code_max_retries"`
	MinAliasLen            int    `yaml:"min_alias_length"`
	MaxAliasLen            int    `yaml:"max_alias_length"`
	DefaultValidityMinutes int    `yaml:"default_validity_minutes"`
	CreatorQuota           int    `yaml:"creator_quota"`
	EventBufferSize        int    `yaml:"event_buffer_size"`
}

// ObservabilityConfig selects logging and telemetry outputs
type ObservabilityConfig struct {
	ServiceName  string `yaml:"service_name"`
	Environment  string `yaml:"environment"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	LogFile      string `yaml:"log_file"`
}

// DatabaseConfig holds the audit database connection. An empty Host
// disables the audit sink.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// CacheConfig is the Redis location cache. An empty Host disables caching.
type CacheConfig struct {
	Host     string        `yaml:"host"`
	Port     string        `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	TTL      time.Duration `yaml:"ttl"`
}

// BrokerConfig is the RabbitMQ event exchange. An empty URL disables publishing.
type BrokerConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LocatorConfig selects how click locations are resolved
type LocatorConfig struct {
	Backend  string        `yaml:"backend"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RateLimitConfig is the per-client request limit. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// MaintenanceConfig controls the purge job. Retention <= 0 disables it.
type MaintenanceConfig struct {
	Schedule  string        `yaml:"schedule"`
	Retention time.Duration `yaml:"retention"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		App: AppConfig{
			BaseURL:                "http://localhost:8080",
			ShortCodeLen:           6,
			ShortCodeRetries:       100,
			MinAliasLen:            3,
			MaxAliasLen:            20,
			DefaultValidityMinutes: 30,
			CreatorQuota:           5,
			EventBufferSize:        1024,
		},
		Observability: ObservabilityConfig{
			ServiceName: "url-shortener",
			Environment: "development",
		},
		Database: DatabaseConfig{
			Port:    "5432",
			DBName:  "urlshortener",
			SSLMode: "disable",
		},
		Cache: CacheConfig{
			Port: "6379",
			TTL:  24 * time.Hour,
		},
		Broker: BrokerConfig{
			Exchange: "shortener.events",
		},
		Locator: LocatorConfig{
			Backend:  LocatorRandom,
			Endpoint: "http://ip-api.com/json",
			Timeout:  2 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
		Maintenance: MaintenanceConfig{
			Schedule: "*/10 * * * *",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and environment variables (including a .env file), in that
// order of increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.TrustedProxies = getEnvList("TRUSTED_PROXIES", c.Server.TrustedProxies)

	c.App.BaseURL = getEnv("BASE_URL", c.App.BaseURL)
	c.App.ShortCodeLen = getEnvInt("SHORT_CODE_LENGTH", c.App.ShortCodeLen)
	c.App.ShortCodeRetries = getEnvInt("SHORT_CODE_MAX_RETRIES", c.App.ShortCodeRetries)
	c.App.MinAliasLen = getEnvInt("MIN_ALIAS_LENGTH", c.App.MinAliasLen)
	c.App.MaxAliasLen = getEnvInt("MAX_ALIAS_LENGTH", c.App.MaxAliasLen)
	c.App.DefaultValidityMinutes = getEnvInt("DEFAULT_VALIDITY_MINUTES", c.App.DefaultValidityMinutes)
	c.App.CreatorQuota = getEnvInt("CREATOR_QUOTA", c.App.CreatorQuota)
	c.App.EventBufferSize = getEnvInt("EVENT_BUFFER_SIZE", c.App.EventBufferSize)

	c.Observability.ServiceName = getEnv("SERVICE_NAME", c.Observability.ServiceName)
	c.Observability.Environment = getEnv("ENVIRONMENT", c.Observability.Environment)
	c.Observability.OTLPEndpoint = getEnv("OTLP_ENDPOINT", c.Observability.OTLPEndpoint)
	c.Observability.LogFile = getEnv("LOG_FILE", c.Observability.LogFile)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.Cache.Host = getEnv("RDB_HOST", c.Cache.Host)
	c.Cache.Port = getEnv("RDB_PORT", c.Cache.Port)
	c.Cache.User = getEnv("RDB_USER", c.Cache.User)
	c.Cache.Password = getEnv("RDB_PASSWORD", c.Cache.Password)
	c.Cache.TTL = getEnvDuration("LOCATION_CACHE_TTL", c.Cache.TTL)

	c.Broker.URL = getEnv("AMQP_URL", c.Broker.URL)
	c.Broker.Exchange = getEnv("AMQP_EXCHANGE", c.Broker.Exchange)

	c.Locator.Backend = getEnv("LOCATOR", c.Locator.Backend)
	c.Locator.Endpoint = getEnv("LOCATOR_ENDPOINT", c.Locator.Endpoint)
	c.Locator.Timeout = getEnvDuration("LOCATOR_TIMEOUT", c.Locator.Timeout)

	c.RateLimit.RPS = getEnvFloat("RATE_LIMIT_RPS", c.RateLimit.RPS)
	c.RateLimit.Burst = getEnvInt("RATE_LIMIT_BURST", c.RateLimit.Burst)

	c.Maintenance.Schedule = getEnv("CLEANUP_SCHEDULE", c.Maintenance.Schedule)
	c.Maintenance.Retention = getEnvDuration("CLEANUP_RETENTION", c.Maintenance.Retention)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	for _, p := range c.Server.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Errorf("trusted proxy %q is not an IP or CIDR", p))
		}
	}
	if u, err := url.Parse(c.App.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base URL %q must be absolute", c.App.BaseURL))
	}
	if c.App.ShortCodeLen < 1 {
		errs = append(errs, errors.New("short code length must be positive"))
	}
	if c.App.ShortCodeRetries < 1 {
		errs = append(errs, errors.New("short code retries must be positive"))
	}
	if c.App.MinAliasLen < 1 || c.App.MaxAliasLen < c.App.MinAliasLen {
		errs = append(errs, fmt.Errorf("alias length bounds [%d,%d] are invalid", c.App.MinAliasLen, c.App.MaxAliasLen))
	}
	if c.App.DefaultValidityMinutes < 1 {
		errs = append(errs, errors.New("default validity must be at least one minute"))
	}
	if c.App.CreatorQuota < 1 {
		errs = append(errs, errors.New("creator quota must be positive"))
	}
	if c.App.EventBufferSize < 1 {
		errs = append(errs, errors.New("event buffer size must be positive"))
	}
	switch c.Locator.Backend {
	case LocatorRandom:
	case LocatorIPAPI:
		if c.Locator.Endpoint == "" {
			errs = append(errs, errors.New("locator endpoint is required for the ipapi backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown locator backend %q", c.Locator.Backend))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("rate limit burst must be positive when rate limiting is on"))
	}
	if c.Maintenance.Retention > 0 {
		if _, err := cron.ParseStandard(c.Maintenance.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("cleanup schedule: %w", err))
		}
	}

	return errors.Join(errs...)
}

type ConnectionInterface interface {
	ConnectionString() string
}

// Enabled reports whether an audit database is configured.
func (d *DatabaseConfig) Enabled() bool { return d.Host != "" }

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// Enabled reports whether a Redis cache is configured.
func (c *CacheConfig) Enabled() bool { return c.Host != "" }

func (c *CacheConfig) ConnectionString() string {
	u := url.URL{
		Scheme: "redis",
		Host:   c.Host + ":" + c.Port,
		Path:   "/0",
	}
	if c.User != "" || c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvList reads a comma-separated list, dropping empty items.
func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func validProxy(p string) bool {
	if strings.Contains(p, "/") {
		_, _, err := net.ParseCIDR(p)
		return err == nil
	}
	return net.ParseIP(p) != nil
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
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

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
