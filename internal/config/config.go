// Package config provides configuration for the chat client.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the client configuration.
type Config struct {
	// Server settings
	ServerURL string // ws:// or wss:// endpoint of the assistant service
	Token     string // credential sent in the handshake

	// Language settings
	DefaultLanguage    string
	SupportedLanguages []string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Local state
	SnapshotPath string // SQLite database for the preference snapshot

	// Confirmation dialogs
	ConfirmExpiry time.Duration // fallback expiry when the server sends none
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		ServerURL:          getEnv("CHATSYNC_SERVER_URL", "ws://localhost:8090/ws"),
		Token:              getEnv("CHATSYNC_TOKEN", ""),
		DefaultLanguage:    getEnv("CHATSYNC_LANGUAGE", "en"),
		SupportedLanguages: splitCSV(getEnv("CHATSYNC_LANGUAGES", "en,de,fr,vi")),
		PingInterval:       time.Duration(getEnvInt("CHATSYNC_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:       time.Duration(getEnvInt("CHATSYNC_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:        time.Duration(getEnvInt("CHATSYNC_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:     int64(getEnvInt("CHATSYNC_MAX_MESSAGE_SIZE", 1048576)),
		SnapshotPath:       getEnv("CHATSYNC_SNAPSHOT_PATH", "chatsync.db"),
		ConfirmExpiry:      time.Duration(getEnvInt("CHATSYNC_CONFIRM_EXPIRY_MS", 60000)) * time.Millisecond,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func splitCSV(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
