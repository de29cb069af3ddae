// Package chat parses chat command flags and composes transport entrypoints.
package chat

import (
	"context"
	"flag"
	"fmt"

	server "github.com/foundline/chat/internal/chat/app"
	entrypoint "github.com/foundline/chat/internal/platform/cmd"
)

// Config holds chat command configuration.
type Config struct {
	HTTPAddr        string `env:"FOUNDLINE_CHAT_HTTP_ADDR"     envDefault:":8080"`
	StoragePath     string `env:"FOUNDLINE_CHAT_STORAGE_PATH"  envDefault:"chat.db"`
	TokenSecret     string `env:"FOUNDLINE_CHAT_TOKEN_SECRET"`
	IdentityBaseURL string `env:"FOUNDLINE_IDENTITY_BASE_URL"`
	NotifyEndpoint  string `env:"FOUNDLINE_NOTIFY_ENDPOINT"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "chat HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "chat SQLite database path")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "session token signing secret")
	fs.StringVar(&cfg.IdentityBaseURL, "identity-base-url", cfg.IdentityBaseURL, "identity service base URL")
	fs.StringVar(&cfg.NotifyEndpoint, "notify-endpoint", cfg.NotifyEndpoint, "notification send endpoint")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the chat app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceChat, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:        cfg.HTTPAddr,
			StoragePath:     cfg.StoragePath,
			TokenSecret:     cfg.TokenSecret,
			IdentityBaseURL: cfg.IdentityBaseURL,
			NotifyEndpoint:  cfg.NotifyEndpoint,
		}); err != nil {
			return fmt.Errorf("serve chat: %w", err)
		}
		return nil
	})
}
