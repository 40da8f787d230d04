package supervisor

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/HyphaGroup/conduit/internal/config"
)

// BuildEnv constructs the spawned server's environment: the inherited
// environment, overlaid with the user's env blob, overlaid with a
// fixed set of keys that keep the server hermetic no matter what the
// surrounding environment carries.
func BuildEnv(settings *config.Settings) []string {
	merged := make(map[string]string)

	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			merged[key] = value
		}
	}

	for key, value := range config.ParseEnvBlob(settings.EnvBlob) {
		merged[key] = value
	}

	for key, value := range forcedEnv(settings) {
		merged[key] = value
	}

	env := make([]string, 0, len(merged))
	for key, value := range merged {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)
	return env
}

// forcedEnv is always applied last: the server must not pick up
// project-local config, self-update, download LSP servers, or report
// telemetry while driven by Conduit.
func forcedEnv(settings *config.Settings) map[string]string {
	return map[string]string{
		"OPENCODE_CONFIG_DIR":             filepath.Join(settings.DataDir, "server-config"),
		"OPENCODE_DISABLE_PROJECT_CONFIG": "1",
		"OPENCODE_DISABLE_AUTOUPDATE":     "1",
		"OPENCODE_DISABLE_LSP_DOWNLOAD":   "1",
		"OPENCODE_DISABLE_TELEMETRY":      "1",
		"XDG_CACHE_HOME":                  filepath.Join(settings.DataDir, "cache"),
	}
}
