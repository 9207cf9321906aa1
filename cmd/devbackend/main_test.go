package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/parish-portal/internal/config"
)

func testConfig(t *testing.T) config.ServerConfig {
	t.Helper()
	return config.ServerConfig{
		HTTPPort:        0,
		SQLiteDSN:       filepath.Join(t.TempDir(), "parish.db"),
		JWTSecret:       "dev-secret",
		TokenTTL:        time.Hour,
		ShutdownTimeout: time.Second,
	}
}

func TestNewBackend_AppliesMigrationsAndServes(t *testing.T) {
	cfg := testConfig(t)

	var logOutput strings.Builder
	logger := slog.New(slog.NewTextHandler(&logOutput, &slog.HandlerOptions{Level: slog.LevelInfo}))

	b, err := newBackend(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("newBackend returned error: %v", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close returned error: %v", err)
		}
	}()

	logStr := logOutput.String()
	for _, version := range []string{"version=001", "version=002"} {
		if !strings.Contains(logStr, "applied migration") || !strings.Contains(logStr, version) {
			t.Errorf("expected migration %s to be logged, got: %s", version, logStr)
		}
	}
	if strings.Contains(logStr, "redis bridge enabled") || strings.Contains(logStr, "amqp mirror enabled") {
		t.Errorf("brokers must stay disabled without configuration")
	}

	var out strings.Builder
	if err := issueToken([]string{"-user", "42", "-church", "san-roque"}, cfg, time.Now(), &out); err != nil {
		t.Fatalf("issueToken returned error: %v", err)
	}
	token := strings.TrimSpace(out.String())

	server := httptest.NewServer(b.handler)
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL+"/notifications/unread-count", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 0 {
		t.Fatalf("expected empty inbox, got %d", body.Count)
	}
}

func TestNewBackend_ReopenSkipsAppliedMigrations(t *testing.T) {
	cfg := testConfig(t)

	first, err := newBackend(context.Background(), cfg, slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))
	if err != nil {
		t.Fatalf("first newBackend returned error: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	var logOutput strings.Builder
	logger := slog.New(slog.NewTextHandler(&logOutput, &slog.HandlerOptions{Level: slog.LevelInfo}))
	second, err := newBackend(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("second newBackend returned error: %v", err)
	}
	defer second.Close()

	if strings.Contains(logOutput.String(), "applied migration") {
		t.Errorf("expected no migrations on reopen, got: %s", logOutput.String())
	}
}

func TestNewBackend_FailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := newBackend(ctx, cfg, slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))
	if err == nil {
		t.Fatal("expected an error when redis is unreachable")
	}
	if !strings.Contains(err.Error(), "connect redis") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIssueToken(t *testing.T) {
	cfg := testConfig(t)

	t.Run("requires a user", func(t *testing.T) {
		var out strings.Builder
		if err := issueToken([]string{"-church", "san-roque"}, cfg, time.Now(), &out); err == nil {
			t.Fatal("expected an error without -user")
		}
	})

	t.Run("rejects unknown flags", func(t *testing.T) {
		var out strings.Builder
		if err := issueToken([]string{"-user", "42", "-admin"}, cfg, time.Now(), &out); err == nil {
			t.Fatal("expected an error for an unknown flag")
		}
	})

	t.Run("prints a compact token", func(t *testing.T) {
		var out strings.Builder
		if err := issueToken([]string{"-user", "42", "-ttl", "5m"}, cfg, time.Now(), &out); err != nil {
			t.Fatalf("issueToken returned error: %v", err)
		}
		token := strings.TrimSpace(out.String())
		if parts := strings.Split(token, "."); len(parts) != 3 {
			t.Fatalf("expected a three part JWT, got %q", token)
		}
	})
}
