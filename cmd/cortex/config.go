package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all cortex server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	// ClassifierURL is the endpoint of the classification service.
	ClassifierURL string `json:"classifier_url"`
	// CatalogPath is the tools.yaml file. Required.
	CatalogPath string `json:"catalog_path"`
	// DBPath enables the persistent session store; empty keeps sessions in
	// memory.
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`

	HighConfidence float64 `json:"high_confidence"`
	LowConfidence  float64 `json:"low_confidence"`

	ToolTimeoutSeconds     int `json:"tool_timeout_seconds"`
	ToolMaxRetries         int `json:"tool_max_retries"`
	RequestTimeoutSeconds  int `json:"request_timeout_seconds"`
	SessionTTLSeconds      int `json:"session_ttl_seconds"`
	MaxConversationHistory int `json:"max_conversation_history"`
	MaxClarificationRounds int `json:"max_clarification_rounds"`

	// EvictionSchedule is a cron expression for the session sweeper.
	EvictionSchedule string `json:"eviction_schedule"`
	// MCP switches the process to stdio MCP transport instead of HTTP.
	MCP bool `json:"mcp"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:             ":4200",
		ClassifierURL:          "http://localhost:4300/classify",
		CatalogPath:            filepath.Join(cortexDir(), "tools.yaml"),
		LogLevel:               "info",
		HighConfidence:         7.0,
		LowConfidence:          5.0,
		ToolTimeoutSeconds:     30,
		ToolMaxRetries:         3,
		RequestTimeoutSeconds:  60,
		SessionTTLSeconds:      1800,
		MaxConversationHistory: 20,
		MaxClarificationRounds: 2,
		EvictionSchedule:       "*/5 * * * *",
	}
}

func cortexDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cortex"
	}
	return filepath.Join(home, ".cortex")
}

func settingsPath() string {
	return filepath.Join(cortexDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CORTEX_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CORTEX_CLASSIFIER_URL"); v != "" {
		cfg.ClassifierURL = v
	}
	if v := os.Getenv("CORTEX_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("CORTEX_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CORTEX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CORTEX_HIGH_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HighConfidence = f
		}
	}
	if v := os.Getenv("CORTEX_LOW_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LowConfidence = f
		}
	}
	if v := os.Getenv("CORTEX_TOOL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ToolTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CORTEX_TOOL_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ToolMaxRetries = n
		}
	}
	if v := os.Getenv("CORTEX_REQUEST_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RequestTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CORTEX_SESSION_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLSeconds = n
		}
	}
	if v := os.Getenv("CORTEX_MAX_CONVERSATION_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConversationHistory = n
		}
	}
	if v := os.Getenv("CORTEX_MAX_CLARIFICATION_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxClarificationRounds = n
		}
	}
	if v := os.Getenv("CORTEX_EVICTION_SCHEDULE"); v != "" {
		cfg.EvictionSchedule = v
	}
	if v := os.Getenv("CORTEX_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}

	return cfg
}
