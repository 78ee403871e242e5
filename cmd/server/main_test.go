package main

import (
	"claudechat-backend/internal/config"
	"claudechat-backend/internal/llm"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		HTTPPort:        "0",
		ShutdownTimeout: time.Second,
		RequestTimeout:  time.Second,
		AllowedOrigins:  []string{"*"},
		DatabaseDriver:  config.DriverSQLite,
		SQLitePath:      filepath.Join(t.TempDir(), "chat.db"),
		AutoMigrate:     true,
		LLMProvider:     config.ProviderAnthropic,
		AnthropicAPIKey: "test-key",
		DefaultModel:    llm.ModelClaudeSonnet4,
		UpstreamTimeout: time.Second,
	}
}

func TestRunReturnsStartupErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "store",
			mutate: func(c *config.Config) { c.SQLitePath = filepath.Join(c.SQLitePath, "missing", "chat.db") },
			want:   "open store",
		},
		{
			name:   "registry",
			mutate: func(c *config.Config) { c.DefaultModel = "no-such-model" },
			want:   "build model registry",
		},
		{
			name:   "upstream",
			mutate: func(c *config.Config) { c.AnthropicAPIKey = "" },
			want:   "initialize upstream client",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			err := run(context.Background(), cfg, zap.NewNop())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("run() error = %v; want %q", err, tt.want)
			}
		})
	}
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, testConfig(t), zap.NewNop()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v; want nil after shutdown", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after its context ended")
	}
}
