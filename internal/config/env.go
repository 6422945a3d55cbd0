package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment overrides. Secrets and addresses usually come from the
// environment (or a .env file) rather than the checked-in YAML.
const (
	EnvPort              = "GATEWAY_PORT"
	EnvEnvironment       = "GATEWAY_ENVIRONMENT"
	EnvLogLevel          = "GATEWAY_LOG_LEVEL"
	EnvJWTSecret         = "GATEWAY_JWT_SECRET"
	EnvJWTPublicKey      = "GATEWAY_JWT_PUBLIC_KEY"
	EnvJWTPrivateKey     = "GATEWAY_JWT_PRIVATE_KEY"
	EnvRedisHost         = "GATEWAY_REDIS_HOST"
	EnvRedisPort         = "GATEWAY_REDIS_PORT"
	EnvRedisPassword     = "GATEWAY_REDIS_PASSWORD"
	EnvRedisDB           = "GATEWAY_REDIS_DB"
	EnvDatabaseDriver    = "GATEWAY_DATABASE_DRIVER"
	EnvDatabaseDSN       = "GATEWAY_DATABASE_DSN"
	EnvBootstrapPassword = "GATEWAY_BOOTSTRAP_PASSWORD"
	EnvTrustedProxies    = "GATEWAY_TRUSTED_PROXIES"
)

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Port, EnvPort)
	setString(&cfg.Server.Environment, EnvEnvironment)
	setString(&cfg.Log.Level, EnvLogLevel)

	setString(&cfg.Auth.Secret, EnvJWTSecret)
	setString(&cfg.Auth.PublicKey, EnvJWTPublicKey)
	setString(&cfg.Auth.PrivateKey, EnvJWTPrivateKey)

	setString(&cfg.Redis.Host, EnvRedisHost)
	setString(&cfg.Redis.Port, EnvRedisPort)
	setString(&cfg.Redis.Password, EnvRedisPassword)
	if val := os.Getenv(EnvRedisDB); val != "" {
		db, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid int value for %s: %w", EnvRedisDB, err)
		}
		cfg.Redis.DB = db
	}

	setString(&cfg.Database.Driver, EnvDatabaseDriver)
	setString(&cfg.Database.DSN, EnvDatabaseDSN)
	setString(&cfg.Bootstrap.Password, EnvBootstrapPassword)

	if val := os.Getenv(EnvTrustedProxies); val != "" {
		parts := strings.Split(val, ",")
		proxies := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				proxies = append(proxies, p)
			}
		}
		cfg.Server.TrustedProxies = proxies
	}
	return nil
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}
