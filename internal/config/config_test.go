package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("VIGIL_TEST_SECRET", "super-secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	content := `
server:
  host: 127.0.0.1
  port: 9090
auth:
  jwt_secret: ${VIGIL_TEST_SECRET}
cache:
  redis:
    addr: localhost:6379
    prefix: test
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9090 {
		t.Errorf("server = %s:%d, want 127.0.0.1:9090", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "super-secret" {
		t.Errorf("jwt_secret = %q, env var was not expanded", cfg.Auth.JWTSecret)
	}
	if cfg.Cache.Redis.Addr != "localhost:6379" || cfg.Cache.Redis.Prefix != "test" {
		t.Errorf("unexpected redis config: %+v", cfg.Cache.Redis)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("write default: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}

	want := Default()
	if cfg.Server.Port != want.Server.Port {
		t.Errorf("port = %d, want %d", cfg.Server.Port, want.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != want.Server.ShutdownTimeout {
		t.Errorf("shutdown_timeout = %q, want %q", cfg.Server.ShutdownTimeout, want.Server.ShutdownTimeout)
	}
	if cfg.MCP.Transport != "stdio" {
		t.Errorf("mcp transport = %q, want stdio", cfg.MCP.Transport)
	}
}
