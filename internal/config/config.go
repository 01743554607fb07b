// Package config loads agenthub configuration from JSONC/YAML files and
// environment variables.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/agenthub-ai/agenthub/pkg/types"
)

// Load resolves configuration from multiple sources (priority order):
//  1. Global config (~/.agenthub/)
//  2. Project config (<directory>/agenthub.{json,jsonc,yaml})
//  3. AGENTHUB_CONFIG file
//  4. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return
		}
		if loadFile(path, config) == nil {
			loaded[absPath] = true
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		globalDir := filepath.Join(home, ".agenthub")
		loadOnce(filepath.Join(globalDir, "agenthub.json"))
		loadOnce(filepath.Join(globalDir, "agenthub.jsonc"))
		loadOnce(filepath.Join(globalDir, "agenthub.yaml"))
	}

	if directory != "" {
		loadOnce(filepath.Join(directory, "agenthub.json"))
		loadOnce(filepath.Join(directory, "agenthub.jsonc"))
		loadOnce(filepath.Join(directory, "agenthub.yaml"))
	}

	if configPath := os.Getenv("AGENTHUB_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	applyEnvOverrides(config)
	config.ApplyDefaults()

	if config.DataDir == "" {
		home, _ := os.UserHomeDir()
		config.DataDir = filepath.Join(home, ".agenthub", "data")
	}

	return config, nil
}

// loadFile loads a single config file, dispatching on extension.
func loadFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // file doesn't exist, skip
	}

	data = interpolate(data)

	var fileConfig types.Config
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	} else {
		// Strip JSONC comments before decoding
		if err := json.Unmarshal(jsonc.ToJSON(data), &fileConfig); err != nil {
			return err
		}
	}

	merge(config, &fileConfig)
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate replaces {env:VAR} placeholders with environment values.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// merge overlays non-zero fields of src onto dst.
func merge(dst, src *types.Config) {
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.Duplex.URL != "" {
		dst.Duplex.URL = src.Duplex.URL
	}
	if src.Duplex.HandshakeTimeoutMs != 0 {
		dst.Duplex.HandshakeTimeoutMs = src.Duplex.HandshakeTimeoutMs
	}
	if src.Polling.BaseURL != "" {
		dst.Polling.BaseURL = src.Polling.BaseURL
	}
	if src.Polling.PollIntervalMs != 0 {
		dst.Polling.PollIntervalMs = src.Polling.PollIntervalMs
	}
	if src.Polling.RequestTimeoutMs != 0 {
		dst.Polling.RequestTimeoutMs = src.Polling.RequestTimeoutMs
	}
	if src.ApprovalTimeoutMs != 0 {
		dst.ApprovalTimeoutMs = src.ApprovalTimeoutMs
	}
	if src.MergeWindowMs != 0 {
		dst.MergeWindowMs = src.MergeWindowMs
	}
}

// applyEnvOverrides applies AGENTHUB_* environment variables (highest
// priority).
func applyEnvOverrides(config *types.Config) {
	if v := os.Getenv("AGENTHUB_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("AGENTHUB_DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv("AGENTHUB_DUPLEX_URL"); v != "" {
		config.Duplex.URL = v
	}
	if v := os.Getenv("AGENTHUB_POLLING_URL"); v != "" {
		config.Polling.BaseURL = v
	}
	if v := os.Getenv("AGENTHUB_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Polling.PollIntervalMs = n
		}
	}
	if v := os.Getenv("AGENTHUB_APPROVAL_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.ApprovalTimeoutMs = n
		}
	}
}
