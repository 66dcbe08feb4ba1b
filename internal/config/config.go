package config

import (
	"fmt"
	"os"
	"strings"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

type Config struct {
	Mode Mode

	Port       string
	CORSOrigin string
	LogLevel   string

	GCPProjectID string
	GCPLocation  string
	GeminiAPIKey string
	ModelName    string
	UseMockLLM   bool // true = use mock even on GCP

	StreamBackend string // "memory", "sqlite" or "firestore"
	JobBackend    string // "memory" or "firestore"
	SQLitePath    string
	AnalyticsDB   string // SQLite file introspected for the architect and queried by tools

	AgentsFile  string // optional YAML overriding the embedded agent catalog
	DrainPolicy string // "drain" or "early_break"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

// Load reads all env vars and builds the config
func Load() (*Config, error) {
	modeStr := getEnv("DECKFLOW_MODE", "local")
	var mode Mode
	switch modeStr {
	case "gcp":
		mode = ModeGCP
	default:
		mode = ModeLocal
	}

	cfg := &Config{
		Mode: mode,

		Port:       getEnv("DECKFLOW_PORT", "8000"),
		CORSOrigin: getEnv("DECKFLOW_CORS_ORIGIN", "http://localhost:3000"),
		LogLevel:   getEnv("DECKFLOW_LOG_LEVEL", "info"),

		GCPProjectID: getEnv("DECKFLOW_GCP_PROJECT", ""),
		GCPLocation:  getEnv("DECKFLOW_GCP_LOCATION", "us-central1"),
		GeminiAPIKey: getEnv("DECKFLOW_GEMINI_API_KEY", ""),
		ModelName:    getEnv("DECKFLOW_MODEL_NAME", "gemini-2.5-flash"),
		UseMockLLM:   getBoolEnv("DECKFLOW_USE_MOCK_LLM", mode == ModeLocal),

		StreamBackend: getEnv("DECKFLOW_STREAM_BACKEND", "memory"),
		JobBackend:    getEnv("DECKFLOW_JOB_BACKEND", "memory"),
		SQLitePath:    getEnv("DECKFLOW_SQLITE_PATH", "deckflow.db"),
		AnalyticsDB:   getEnv("DECKFLOW_ANALYTICS_DB", ""),

		AgentsFile:  getEnv("DECKFLOW_AGENTS_FILE", ""),
		DrainPolicy: getEnv("DECKFLOW_DRAIN_POLICY", "drain"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Mode == ModeGCP && c.GCPProjectID == "" {
		return fmt.Errorf("DECKFLOW_GCP_PROJECT must be set in gcp mode")
	}
	switch c.StreamBackend {
	case "memory", "sqlite", "firestore":
	default:
		return fmt.Errorf("unknown stream backend %q", c.StreamBackend)
	}
	switch c.JobBackend {
	case "memory", "firestore":
	default:
		return fmt.Errorf("unknown job backend %q", c.JobBackend)
	}
	if (c.StreamBackend == "firestore" || c.JobBackend == "firestore") && c.GCPProjectID == "" {
		return fmt.Errorf("DECKFLOW_GCP_PROJECT is required for the firestore backend")
	}
	switch strings.ToLower(c.DrainPolicy) {
	case "drain", "early_break":
	default:
		return fmt.Errorf("unknown drain policy %q", c.DrainPolicy)
	}
	if !c.UseMockLLM && c.GeminiAPIKey == "" && c.GCPProjectID == "" {
		return fmt.Errorf("either DECKFLOW_GEMINI_API_KEY or DECKFLOW_GCP_PROJECT is required for the Gemini client")
	}
	return nil
}
