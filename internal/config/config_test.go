package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/ratelimit"
)

const minimalConfig = `
auth:
  secret: test-secret
rate_limit:
  tiers:
    - name: standard
      window: 60s
      max_requests: 100
routes:
  - name: users
    method: GET
    path: /api/users/*
    backend: http://users.internal:9000
    auth_required: true
    rate_limit_tier: standard
    timeout: 2s
  - name: health
    method: ANY
    path: /status
    backend: http://status.internal
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port = %q, want %q", cfg.Server.Port, DefaultPort)
	}
	if cfg.Server.Environment != "development" {
		t.Errorf("Environment = %q", cfg.Server.Environment)
	}
	if cfg.Server.AdminPrefix != DefaultAdminPrefix {
		t.Errorf("AdminPrefix = %q", cfg.Server.AdminPrefix)
	}
	if cfg.Server.ReadTimeout != 15*time.Second || cfg.Server.IdleTimeout != time.Minute {
		t.Errorf("timeouts = %v / %v", cfg.Server.ReadTimeout, cfg.Server.IdleTimeout)
	}
	if cfg.Server.WriteTimeout != 0 {
		t.Errorf("WriteTimeout = %v, want 0", cfg.Server.WriteTimeout)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.RateLimit.Backend != ratelimit.BackendMemory {
		t.Errorf("Backend = %q", cfg.RateLimit.Backend)
	}
	if cfg.RateLimit.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v", cfg.RateLimit.SweepInterval)
	}
	if len(cfg.Routes) != 2 {
		t.Fatalf("Routes = %d, want 2", len(cfg.Routes))
	}
	if cfg.Routes[0].Timeout != 2*time.Second {
		t.Errorf("route timeout = %v", cfg.Routes[0].Timeout)
	}
}

func TestParseProductionDefaultsToJSONLogs(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  environment: production\n" + minimalConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Format = %q, want json", cfg.Log.Format)
	}
}

func TestParseNormalizesAdminPrefix(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  admin_prefix: admin/\n" + minimalConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Server.AdminPrefix != "/admin" {
		t.Errorf("AdminPrefix = %q, want /admin", cfg.Server.AdminPrefix)
	}
}

func TestRouteTable(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	table, err := cfg.RouteTable()
	if err != nil {
		t.Fatalf("RouteTable() error = %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("Len() = %d", table.Len())
	}

	route, err := table.Resolve("GET", "/api/users/42")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if route.Name != "users" || !route.AuthRequired {
		t.Errorf("route = %+v", route)
	}
	if route.Tier == nil || route.Tier.MaxRequests != 100 {
		t.Errorf("Tier = %+v", route.Tier)
	}

	status, err := table.Resolve("DELETE", "/status")
	if err != nil {
		t.Fatalf("Resolve(ANY) error = %v", err)
	}
	if status.Tier != nil {
		t.Errorf("status route should be unlimited, got %+v", status.Tier)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "missing secret",
			doc:     "routes: []\n",
			wantErr: "auth.secret",
		},
		{
			name:    "rsa without public key",
			doc:     "auth:\n  signing_method: RS256\n",
			wantErr: "auth.public_key",
		},
		{
			name:    "non numeric port",
			doc:     "server:\n  port: http\nauth:\n  secret: s\n",
			wantErr: "server.port",
		},
		{
			name:    "bad log level",
			doc:     "log:\n  level: loud\nauth:\n  secret: s\n",
			wantErr: "log.level",
		},
		{
			name:    "redis backend without host",
			doc:     "auth:\n  secret: s\nrate_limit:\n  backend: redis\n",
			wantErr: "redis.host",
		},
		{
			name:    "unknown database driver",
			doc:     "auth:\n  secret: s\ndatabase:\n  driver: mysql\n  dsn: x\n",
			wantErr: "unknown database driver",
		},
		{
			name:    "database without dsn",
			doc:     "auth:\n  secret: s\ndatabase:\n  driver: sqlite\n",
			wantErr: "database.dsn",
		},
		{
			name:    "bootstrap without database",
			doc:     "auth:\n  secret: s\nbootstrap:\n  username: admin\n  password: pw\n",
			wantErr: "requires a database",
		},
		{
			name:    "unknown tier",
			doc:     "auth:\n  secret: s\nroutes:\n  - name: a\n    method: GET\n    path: /a\n    backend: http://a\n    rate_limit_tier: gold\n",
			wantErr: "gold",
		},
		{
			name:    "reserved admin path",
			doc:     "auth:\n  secret: s\nroutes:\n  - name: a\n    method: GET\n    path: /_gateway/health\n    backend: http://a\n",
			wantErr: "reserved",
		},
		{
			name:    "duplicate tier",
			doc:     "auth:\n  secret: s\nrate_limit:\n  tiers:\n    - {name: t, window: 1s, max_requests: 1}\n    - {name: t, window: 1s, max_requests: 1}\n",
			wantErr: "duplicate tier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Parse() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("routes: [")); err == nil {
		t.Fatal("Parse() error = nil")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "9090")
	t.Setenv(EnvJWTSecret, "from-env")
	t.Setenv(EnvRedisHost, "cache")
	t.Setenv(EnvRedisDB, "3")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvTrustedProxies, "10.0.0.0/8, 192.168.0.1 ,")

	cfg, err := Parse([]byte("auth:\n  secret: from-file\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %q", cfg.Server.Port)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Errorf("Secret = %q", cfg.Auth.Secret)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.GetRedisAddr() != "cache:6379" || cfg.Redis.DB != 3 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q", cfg.Log.Level)
	}
	if len(cfg.Server.TrustedProxies) != 2 || cfg.Server.TrustedProxies[1] != "192.168.0.1" {
		t.Errorf("TrustedProxies = %v", cfg.Server.TrustedProxies)
	}
}

func TestEnvOverrideInvalidRedisDB(t *testing.T) {
	t.Setenv(EnvRedisDB, "zero")
	if _, err := Parse([]byte("auth:\n  secret: s\n")); err == nil {
		t.Fatal("Parse() error = nil")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(minimalConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Secret != "test-secret" {
		t.Errorf("Secret = %q", cfg.Auth.Secret)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) error = nil")
	}
}
