package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Environment overrides honoured by the CLIs.
const (
	EnvConfigPath = "ACCIDENT_CONFIG"
	EnvDBPath     = "ACCIDENT_DB"
)

// Resolve picks a setting by precedence: an explicit flag value, then the
// environment variable, then def.
func Resolve(flagValue, envKey, def string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return def
}

// Load returns the defaults when path is empty and otherwise loads path.
func Load(path string) (*ExperimentConfig, error) {
	if path == "" {
		cfg := DefaultExperimentConfig()
		return cfg, cfg.Validate()
	}
	return LoadExperimentConfig(path)
}

// ResolveDBPath finds the experiment database for commands that only touch
// the store: the flag, then $ACCIDENT_DB, then db_path from the config file
// at configPath, then the default. Only db_path is read from the file and
// the rest of the config is not validated.
func ResolveDBPath(flagValue, configPath string) (string, error) {
	if p := Resolve(flagValue, EnvDBPath, ""); p != "" {
		return p, nil
	}
	def := DefaultExperimentConfig().DBPath
	if configPath == "" {
		return def, nil
	}
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return "", fmt.Errorf("failed to read config file: %w", err)
	}
	var partial struct {
		DBPath string `json:"db_path"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return "", fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if partial.DBPath == "" {
		return def, nil
	}
	return partial.DBPath, nil
}
