package config

import "strings"

// ParseEnvBlob parses user-supplied environment text into KEY=VALUE
// pairs, one assignment per line. Blank lines and #-prefixed lines are
// skipped, keys are trimmed, and single- or double-quoted values are
// unquoted. Lines without '=' are ignored.
func ParseEnvBlob(blob string) map[string]string {
	env := make(map[string]string)

	for _, line := range strings.Split(blob, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		value = strings.TrimSpace(value)
		value = unquote(value)

		env[key] = value
	}

	return env
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
