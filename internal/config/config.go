package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	// Discord bot
	DiscordToken string

	// Ledger OAuth2 (Splitwise-compatible API)
	LedgerClientID     string
	LedgerClientSecret string
	LedgerAPIBase      string
	LedgerRedirectURI  string

	// Extraction
	OpenAIKey   string
	OpenAIModel string

	// Web server
	WebBind      string
	WebUIBaseURL string

	// Uploads
	UploadDir string

	// Session
	JWTSecret string

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:       os.Getenv("DISCORD_TOKEN"),
		LedgerClientID:     os.Getenv("LEDGER_CLIENT_ID"),
		LedgerClientSecret: os.Getenv("LEDGER_CLIENT_SECRET"),
		LedgerAPIBase:      getEnvDefault("LEDGER_API_BASE", "https://secure.splitwise.com"),
		LedgerRedirectURI:  getEnvDefault("LEDGER_REDIRECT_URI", "http://localhost:3000/auth/callback"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        getEnvDefault("OPENAI_MODEL", "gpt-4o"),
		WebBind:            getEnvDefault("WEB_BIND", "0.0.0.0:3000"),
		UploadDir:          getEnvDefault("UPLOAD_DIR", "./uploads"),
		JWTSecret:          getEnvDefault("JWT_SECRET", "dev-only-change-me"),
		LogLevel:           getEnvDefault("LOG_LEVEL", "info"),
	}

	// Extract base URL from redirect URI
	cfg.WebUIBaseURL = extractBaseURL(cfg.LedgerRedirectURI)

	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.LedgerClientID == "" {
		return nil, fmt.Errorf("LEDGER_CLIENT_ID is required")
	}
	if cfg.LedgerClientSecret == "" {
		return nil, fmt.Errorf("LEDGER_CLIENT_SECRET is required")
	}
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	return cfg, nil
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func extractBaseURL(redirectURI string) string {
	// e.g. "http://localhost:3000/auth/callback" -> "http://localhost:3000"
	parsed, err := url.Parse(redirectURI)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "http://localhost:3000"
	}

	return fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
}
