package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// serverBinaryName is the agent server executable we look for.
const serverBinaryName = "opencode"

// ResolveBinary finds the agent server binary. An explicitly
// configured path wins; otherwise common install locations are tried,
// then PATH. Fails with a descriptive error naming what was searched.
func ResolveBinary(configured string) (string, error) {
	if configured != "" {
		if isExecutable(configured) {
			return configured, nil
		}
		return "", fmt.Errorf("configured agent server binary not found: %s", configured)
	}

	name := serverBinaryName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	for _, dir := range installDirs() {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("agent server binary %q not found in common install locations or PATH; set binary_path in settings", name)
}

// installDirs lists well-known install locations, most specific first.
func installDirs() []string {
	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(home, ".opencode", "bin"),
			filepath.Join(home, ".local", "bin"),
		)
	}
	if runtime.GOOS != "windows" {
		dirs = append(dirs, "/usr/local/bin", "/opt/homebrew/bin")
	}
	return dirs
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}
