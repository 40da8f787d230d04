// Package config loads Conduit settings.
//
// Settings come from a JSONC file (comments allowed), overlaid with
// CONDUIT_* environment variables. Missing file is not an error; the
// defaults are usable as-is.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// PermissionMode controls how the agent server handles tool permissions
// at session creation time.
type PermissionMode string

const (
	// PermissionAuto approves every action without asking.
	PermissionAuto PermissionMode = "auto"
	// PermissionAsk asks the caller before every action.
	PermissionAsk PermissionMode = "ask"
)

// Settings holds all Conduit configuration.
type Settings struct {
	// Server settings
	BinaryPath string `json:"binary_path"` // explicit agent server binary; empty = auto-detect
	Hostname   string `json:"hostname"`
	Port       int    `json:"port"` // preferred port; 0 or busy = ephemeral fallback

	// Query defaults
	Model          string         `json:"model"` // "providerID/modelID"
	PermissionMode PermissionMode `json:"permission_mode"`

	// EnvBlob is user-supplied KEY=VALUE lines passed to the spawned
	// server, one assignment per line, # comments allowed.
	EnvBlob string `json:"env"`

	// Debug logging
	DebugLogging  bool `json:"debug_logging"`
	RetentionDays int  `json:"retention_days"` // debug turn retention; 0 = keep forever

	// Paths
	DataDir string `json:"data_dir"`
	LogDir  string `json:"log_dir"`

	// MetricsAddr enables a Prometheus listener when non-empty (e.g. ":9464")
	MetricsAddr string `json:"metrics_addr"`
}

// Default returns settings with usable defaults rooted under the user
// config directory.
func Default() *Settings {
	base := baseDir()
	return &Settings{
		Hostname:       "127.0.0.1",
		Port:           4096,
		PermissionMode: PermissionAsk,
		DataDir:        filepath.Join(base, "data"),
		LogDir:         filepath.Join(base, "logs"),
		RetentionDays:  30,
	}
}

func baseDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "conduit")
	}
	return ".conduit"
}

// DefaultPath returns the default settings file location.
func DefaultPath() string {
	return filepath.Join(baseDir(), "conduit.jsonc")
}

// Load reads settings from path, applying defaults and CONDUIT_* env
// overrides. A missing file yields defaults without error.
func Load(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(StripJSONComments(data), s); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}

	s.applyEnvOverrides()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyEnvOverrides() {
	if v := os.Getenv("CONDUIT_BINARY"); v != "" {
		s.BinaryPath = v
	}
	if v := os.Getenv("CONDUIT_HOSTNAME"); v != "" {
		s.Hostname = v
	}
	if v := os.Getenv("CONDUIT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			s.Port = port
		}
	}
	if v := os.Getenv("CONDUIT_MODEL"); v != "" {
		s.Model = v
	}
	if v := os.Getenv("CONDUIT_DEBUG"); v != "" {
		s.DebugLogging = v == "1" || v == "true"
	}
}

// Validate checks field values that would otherwise fail deep inside a
// query.
func (s *Settings) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	switch s.PermissionMode {
	case PermissionAuto, PermissionAsk, "":
	default:
		return fmt.Errorf("invalid permission_mode %q (want %q or %q)", s.PermissionMode, PermissionAuto, PermissionAsk)
	}
	return nil
}
