package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/auth"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/proxy"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/ratelimit"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/router"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort        = "8080"
	DefaultAdminPrefix = "/_gateway"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Log        LogConfig            `yaml:"log"`
	Auth       auth.Config          `yaml:"auth"`
	RateLimit  ratelimit.Config     `yaml:"rate_limit"`
	Forwarding proxy.Config         `yaml:"forwarding"`
	Redis      RedisConfig          `yaml:"redis"`
	Database   DatabaseConfig       `yaml:"database"`
	Bootstrap  BootstrapConfig      `yaml:"bootstrap"`
	Routes     []router.RouteConfig `yaml:"routes"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Environment     string        `yaml:"environment"`
	AdminPrefix     string        `yaml:"admin_prefix"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
	WatchConfig     bool          `yaml:"watch_config"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis connection is configured.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

func (r RedisConfig) GetRedisAddr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// DatabaseConfig selects the user store behind the login endpoint. An empty
// driver disables login.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// BootstrapConfig seeds one user at startup when the username is set.
type BootstrapConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Email    string `yaml:"email"`
	Role     string `yaml:"role"`
}

// Load reads the YAML file at path, applies GATEWAY_* environment
// overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(file)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}
	if c.Server.AdminPrefix == "" {
		c.Server.AdminPrefix = DefaultAdminPrefix
	}
	c.Server.AdminPrefix = "/" + strings.Trim(c.Server.AdminPrefix, "/")
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout <= 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	// WriteTimeout stays zero unless set: it would cut off slow backends
	// before their own route timeout.

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		if c.IsProduction() {
			c.Log.Format = "json"
		} else {
			c.Log.Format = "text"
		}
	}

	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = ratelimit.BackendMemory
	}
	if c.RateLimit.SweepInterval <= 0 {
		c.RateLimit.SweepInterval = time.Minute
	}

	if c.Bootstrap.Username != "" && c.Bootstrap.Role == "" {
		c.Bootstrap.Role = "user"
	}
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate checks everything that can be checked without dialing out,
// including building the route table once.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server.port must be numeric: %q", c.Server.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text: %q", c.Log.Format)
	}

	if strings.HasPrefix(c.Auth.SigningMethod, "RS") {
		if c.Auth.PublicKey == "" {
			return fmt.Errorf("auth.public_key is required for %s", c.Auth.SigningMethod)
		}
	} else if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}

	if c.RateLimit.Backend == ratelimit.BackendRedis && !c.Redis.Enabled() {
		return fmt.Errorf("rate_limit.backend redis requires redis.host")
	}

	switch c.Database.Driver {
	case "":
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}

	if c.Bootstrap.Username != "" {
		if c.Database.Driver == "" {
			return fmt.Errorf("bootstrap user requires a database")
		}
		if c.Bootstrap.Password == "" {
			return fmt.Errorf("bootstrap.password is required")
		}
	}

	_, err := c.RouteTable()
	return err
}

// RouteTable builds the routing table described by the configuration.
func (c *Config) RouteTable() (*router.Table, error) {
	tiers, err := c.RateLimit.TierMap()
	if err != nil {
		return nil, err
	}

	for _, rc := range c.Routes {
		if strings.HasPrefix(rc.Path, c.Server.AdminPrefix+"/") || rc.Path == c.Server.AdminPrefix {
			return nil, fmt.Errorf("route %s: path %s is reserved for gateway endpoints", rc.Name, rc.Path)
		}
	}

	return router.NewTable(c.Routes, tiers)
}
