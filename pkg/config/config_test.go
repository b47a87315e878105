package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ROUTING_THRESHOLD", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.Threshold.String() != "1000000" {
		t.Fatalf("threshold = %s", cfg.Routing.Threshold)
	}
	if cfg.Routing.PrimaryTitle != "동문회장" || cfg.Routing.SecondaryTitle != "운영위원장" {
		t.Fatalf("titles = %q/%q", cfg.Routing.PrimaryTitle, cfg.Routing.SecondaryTitle)
	}
	if cfg.Redis.Enabled() {
		t.Fatal("redis enabled without address")
	}
	if cfg.Auth.JWTSecret == "" {
		t.Fatal("development secret not applied")
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Fatalf("request timeout = %s", cfg.Server.RequestTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ROUTING_THRESHOLD", "500000.50")
	t.Setenv("ROUTING_PRIMARY_TITLE", "  회장 ")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("IDEMPOTENCY_TTL", "1h")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.Threshold.String() != "500000.5" {
		t.Fatalf("threshold = %s", cfg.Routing.Threshold)
	}
	if cfg.Routing.PrimaryTitle != "회장" {
		t.Fatalf("primary title = %q", cfg.Routing.PrimaryTitle)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.IdempotencyTTL != time.Hour {
		t.Fatalf("redis = %+v", cfg.Redis)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Fatalf("origins = %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad threshold", map[string]string{"ROUTING_THRESHOLD": "lots", "ENVIRONMENT": "development"}},
		{"zero threshold", map[string]string{"ROUTING_THRESHOLD": "0", "ENVIRONMENT": "development"}},
		{"missing secret in production", map[string]string{"ENVIRONMENT": "production", "JWT_SECRET": "", "ROUTING_THRESHOLD": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5433, Database: "d", SSLMode: "disable"}
	if got := c.DSN(); got != "postgres://u:p@h:5433/d?sslmode=disable" {
		t.Fatalf("DSN = %q", got)
	}
}
