package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfigFile(t *testing.T) {
	cfg, err := Load("../../config")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Queue.Default.Persistent || cfg.Queue.Default.Capacity != 0 {
		t.Errorf("expected non-persistent unbounded default queue, got %+v", cfg.Queue.Default)
	}
	if got := cfg.Queue.Queues["orders"].Capacity; got != 1000 {
		t.Errorf("expected orders capacity 1000, got %d", got)
	}
	if cfg.Dispatch.DispatchTimeout != time.Second {
		t.Errorf("expected dispatch timeout 1s, got %v", cfg.Dispatch.DispatchTimeout)
	}
	if cfg.Dispatch.ReplyQueuePrefix != "vm.reply." {
		t.Errorf("expected reply prefix vm.reply., got %s", cfg.Dispatch.ReplyQueuePrefix)
	}
	if !cfg.Processing.EagerCheck {
		t.Error("expected eager check enabled by default")
	}
	if cfg.Processing.MaxConcurrency != 0 {
		t.Errorf("expected unbounded concurrency, got %d", cfg.Processing.MaxConcurrency)
	}
	if cfg.Credentials.LockPrefix != "flowgate/credentials" {
		t.Errorf("expected lock prefix flowgate/credentials, got %s", cfg.Credentials.LockPrefix)
	}
	if cfg.Credentials.ExpiryBuffer != 5*time.Minute {
		t.Errorf("expected expiry buffer 5m, got %v", cfg.Credentials.ExpiryBuffer)
	}
	if cfg.Credentials.Transport.Timeout != 10*time.Second {
		t.Errorf("expected transport timeout 10s, got %v", cfg.Credentials.Transport.Timeout)
	}
	if cfg.API.Addr() != "0.0.0.0:8080" {
		t.Errorf("expected API addr 0.0.0.0:8080, got %s", cfg.API.Addr())
	}
	if cfg.Auth.JWT.TokenExpiry != time.Hour {
		t.Errorf("expected token expiry 1h, got %v", cfg.Auth.JWT.TokenExpiry)
	}
	if cfg.Database.MaxConns != 10 {
		t.Errorf("expected max conns 10, got %d", cfg.Database.MaxConns)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FLOWGATE_LOGGING_LEVEL", "debug")
	t.Setenv("FLOWGATE_PROCESSING_MAX_CONCURRENCY", "8")
	t.Setenv("FLOWGATE_CREDENTIALS_LOCK_PREFIX", "acme/locks")

	cfg, err := Load("../../config")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug from env, got %s", cfg.Logging.Level)
	}
	if cfg.Processing.MaxConcurrency != 8 {
		t.Errorf("expected max concurrency 8 from env, got %d", cfg.Processing.MaxConcurrency)
	}
	if cfg.Credentials.LockPrefix != "acme/locks" {
		t.Errorf("expected lock prefix from env, got %s", cfg.Credentials.LockPrefix)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoad_Bridges(t *testing.T) {
	dir := t.TempDir()
	content := `
bridges:
  - endpoint: inbound
    target: orders
    worker_count: 2
    tx_policy: always_begin
    max_retries: 3
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(cfg.Bridges) != 1 {
		t.Fatalf("expected 1 bridge, got %d", len(cfg.Bridges))
	}
	b := cfg.Bridges[0]
	if b.Endpoint != "inbound" || b.Target != "orders" || b.WorkerCount != 2 || b.TxPolicy != "always_begin" {
		t.Errorf("unexpected bridge %+v", b)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name:    "negative capacity",
			yaml:    "queue:\n  default:\n    capacity: -1\n",
			wantErr: true,
		},
		{
			name:    "persistent without store",
			yaml:    "queue:\n  queues:\n    jobs:\n      persistent: true\n",
			wantErr: true,
		},
		{
			name: "persistent with file store",
			yaml: "store:\n  type: file\n  path: /tmp/q\nqueue:\n  queues:\n    jobs:\n      persistent: true\n",
		},
		{
			name:    "redis store without addr",
			yaml:    "store:\n  type: redis\n",
			wantErr: true,
		},
		{
			name:    "bridge with unknown policy",
			yaml:    "bridges:\n  - endpoint: a\n    target: b\n    tx_policy: maybe\n",
			wantErr: true,
		},
		{
			name:    "bridge without target",
			yaml:    "bridges:\n  - endpoint: a\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(tt.yaml), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, err := Load(dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
