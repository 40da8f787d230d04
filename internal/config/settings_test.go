package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("valid settings with comments", func(t *testing.T) {
		path := filepath.Join(tmpDir, "conduit.jsonc")
		content := `{
			// Agent server binary
			"binary_path": "/usr/local/bin/opencode",
			"hostname": "127.0.0.1",
			"port": 5000,
			/* query defaults */
			"model": "anthropic/claude-sonnet-4-5",
			"permission_mode": "auto",
			"debug_logging": true,
			"retention_days": 7
		}`
		_ = os.WriteFile(path, []byte(content), 0o644)

		s, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if s.BinaryPath != "/usr/local/bin/opencode" {
			t.Errorf("BinaryPath = %q, want /usr/local/bin/opencode", s.BinaryPath)
		}
		if s.Port != 5000 {
			t.Errorf("Port = %d, want 5000", s.Port)
		}
		if s.PermissionMode != PermissionAuto {
			t.Errorf("PermissionMode = %q, want %q", s.PermissionMode, PermissionAuto)
		}
		if !s.DebugLogging {
			t.Error("DebugLogging should be true")
		}
		if s.RetentionDays != 7 {
			t.Errorf("RetentionDays = %d, want 7", s.RetentionDays)
		}
	})

	t.Run("missing file yields defaults", func(t *testing.T) {
		s, err := Load(filepath.Join(tmpDir, "nonexistent.jsonc"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if s.Hostname != "127.0.0.1" {
			t.Errorf("Hostname = %q, want 127.0.0.1", s.Hostname)
		}
		if s.Port != 4096 {
			t.Errorf("Port = %d, want 4096", s.Port)
		}
		if s.PermissionMode != PermissionAsk {
			t.Errorf("PermissionMode = %q, want %q", s.PermissionMode, PermissionAsk)
		}
	})

	t.Run("invalid permission mode rejected", func(t *testing.T) {
		path := filepath.Join(tmpDir, "bad.jsonc")
		_ = os.WriteFile(path, []byte(`{"permission_mode": "yolo"}`), 0o644)

		if _, err := Load(path); err == nil {
			t.Error("Load() should reject invalid permission_mode")
		}
	})

	t.Run("env override", func(t *testing.T) {
		t.Setenv("CONDUIT_PORT", "6123")
		t.Setenv("CONDUIT_MODEL", "openai/gpt-5")

		s, err := Load(filepath.Join(tmpDir, "nonexistent.jsonc"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if s.Port != 6123 {
			t.Errorf("Port = %d, want 6123", s.Port)
		}
		if s.Model != "openai/gpt-5" {
			t.Errorf("Model = %q, want openai/gpt-5", s.Model)
		}
	})
}

func TestStripJSONComments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"line comment", "{\"a\": 1 // note\n}", "{\"a\": 1 \n}"},
		{"block comment", `{"a": /* x */ 1}`, `{"a":  1}`},
		{"slashes inside string", `{"url": "http://example.com"}`, `{"url": "http://example.com"}`},
		{"escaped quote in string", `{"a": "say \" // not a comment"}`, `{"a": "say \" // not a comment"}`},
		{"unterminated block", `{"a": 1} /* trailing`, `{"a": 1} `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(StripJSONComments([]byte(tt.input)))
			if got != tt.want {
				t.Errorf("StripJSONComments(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseEnvBlob(t *testing.T) {
	blob := `
# API keys
ANTHROPIC_API_KEY=sk-test-123
OPENAI_API_KEY="quoted value"
SINGLE='single quoted'
  SPACED_KEY = spaced value
NOEQUALS
=novalue

# trailing comment
`
	env := ParseEnvBlob(blob)

	if env["ANTHROPIC_API_KEY"] != "sk-test-123" {
		t.Errorf("ANTHROPIC_API_KEY = %q, want sk-test-123", env["ANTHROPIC_API_KEY"])
	}
	if env["OPENAI_API_KEY"] != "quoted value" {
		t.Errorf("OPENAI_API_KEY = %q, want 'quoted value'", env["OPENAI_API_KEY"])
	}
	if env["SINGLE"] != "single quoted" {
		t.Errorf("SINGLE = %q, want 'single quoted'", env["SINGLE"])
	}
	if env["SPACED_KEY"] != "spaced value" {
		t.Errorf("SPACED_KEY = %q, want 'spaced value'", env["SPACED_KEY"])
	}
	if _, ok := env["NOEQUALS"]; ok {
		t.Error("lines without '=' should be ignored")
	}
	if _, ok := env[""]; ok {
		t.Error("empty keys should be ignored")
	}
	if len(env) != 4 {
		t.Errorf("len(env) = %d, want 4", len(env))
	}
}
