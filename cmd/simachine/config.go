package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all simachine CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath      string `json:"db_path"`
	LogLevel    string `json:"log_level"`
	HaltOnError bool   `json:"halt_on_error"`
	AutoStep    string `json:"auto_step"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
	}
}

func simachineDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".simachine"
	}
	return filepath.Join(home, ".simachine")
}

func settingsPath() string {
	return filepath.Join(simachineDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("SIMACHINE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SIMACHINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SIMACHINE_HALT_ON_ERROR"); v != "" {
		cfg.HaltOnError = v == "true" || v == "1"
	}
	if v := os.Getenv("SIMACHINE_AUTO_STEP"); v != "" {
		cfg.AutoStep = v
	}

	return cfg
}
