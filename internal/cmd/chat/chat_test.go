package chat

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.StoragePath != "chat.db" {
		t.Fatalf("expected default storage path, got %q", cfg.StoragePath)
	}
	if cfg.TokenSecret != "" {
		t.Fatalf("expected empty default token secret, got %q", cfg.TokenSecret)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("FOUNDLINE_CHAT_HTTP_ADDR", "env-chat")
	t.Setenv("FOUNDLINE_CHAT_STORAGE_PATH", "env-storage")
	t.Setenv("FOUNDLINE_CHAT_TOKEN_SECRET", "env-secret")
	t.Setenv("FOUNDLINE_IDENTITY_BASE_URL", "env-identity")
	t.Setenv("FOUNDLINE_NOTIFY_ENDPOINT", "env-notify")

	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-chat",
		"-storage-path", "flag-storage",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-chat" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.StoragePath != "flag-storage" {
		t.Fatalf("expected flag storage path, got %q", cfg.StoragePath)
	}
	if cfg.TokenSecret != "env-secret" {
		t.Fatalf("expected env token secret, got %q", cfg.TokenSecret)
	}
	if cfg.IdentityBaseURL != "env-identity" {
		t.Fatalf("expected env identity base url, got %q", cfg.IdentityBaseURL)
	}
	if cfg.NotifyEndpoint != "env-notify" {
		t.Fatalf("expected env notify endpoint, got %q", cfg.NotifyEndpoint)
	}
}
