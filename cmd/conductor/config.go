package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds all conductor server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string `json:"db_path"`
	LogLevel      string `json:"log_level"`
	RegistriesDir string `json:"registries_dir"`

	// Planner selection: "scripted" needs no credentials, "llm" talks to an
	// OpenAI-compatible endpoint.
	PlannerMode    string `json:"planner_mode"`
	PlannerAPIKey  string `json:"planner_api_key"`
	PlannerModel   string `json:"planner_model"`
	PlannerBaseURL string `json:"planner_base_url"`

	// StepDelayMS paces the simulated executor so streamed events are
	// watchable. Zero runs flat out.
	StepDelayMS int `json:"step_delay_ms"`
}

func defaultConfig() Config {
	return Config{
		DBPath:       filepath.Join(conductorDir(), "conductor.db"),
		LogLevel:     "info",
		PlannerMode:  "scripted",
		PlannerModel: "gpt-4o-mini",
		StepDelayMS:  250,
	}
}

func conductorDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".conductor")
}

func settingsPath() string {
	return filepath.Join(conductorDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CONDUCTOR_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CONDUCTOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CONDUCTOR_REGISTRIES_DIR"); v != "" {
		cfg.RegistriesDir = v
	}
	if v := os.Getenv("CONDUCTOR_PLANNER_MODE"); v != "" {
		cfg.PlannerMode = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.PlannerAPIKey = v
	}
	if v := os.Getenv("CONDUCTOR_PLANNER_MODEL"); v != "" {
		cfg.PlannerModel = v
	}
	if v := os.Getenv("CONDUCTOR_PLANNER_BASE_URL"); v != "" {
		cfg.PlannerBaseURL = v
	}

	return cfg
}

func (c Config) stepDelay() time.Duration {
	if c.StepDelayMS <= 0 {
		return 0
	}
	return time.Duration(c.StepDelayMS) * time.Millisecond
}
