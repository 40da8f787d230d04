// Package supervisor manages the local agent server process.
//
// The supervisor resolves the server binary, negotiates a listening
// port, spawns `<binary> serve --hostname=<h> --port=<p>` with a
// hermetic environment, and declares the server ready only once its
// health endpoint answers. EnsureRunning is idempotent: while a handle
// is live a second call returns the same handle without re-spawning.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/HyphaGroup/conduit/internal/config"
	"github.com/HyphaGroup/conduit/internal/logger"
	"github.com/HyphaGroup/conduit/internal/metrics"
	"github.com/HyphaGroup/conduit/internal/transport"
)

const (
	healthPath         = "/health"
	healthPollInterval = 250 * time.Millisecond
	startTimeout       = 30 * time.Second
	stopGracePeriod    = 5 * time.Second
)

// ErrServerExited marks a health wait that ended because the process
// died, as opposed to timing out while the process was still alive.
var ErrServerExited = errors.New("server process exited during startup")

// Handle is a running agent server. The handle is the only owner of
// the OS process; Stop terminates it.
type Handle struct {
	URL          string
	Port         int
	FallbackUsed bool

	cmd      *exec.Cmd
	exited   chan struct{} // closed when the process exits
	exitErr  error
	stopOnce sync.Once
}

// Exited returns a channel closed when the server process exits.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// Stop sends SIGTERM to the process, escalating to SIGKILL after a
// grace period. Safe to call multiple times.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		if h.cmd == nil || h.cmd.Process == nil {
			return
		}
		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			// Already gone.
			return
		}
		select {
		case <-h.exited:
		case <-time.After(stopGracePeriod):
			_ = h.cmd.Process.Kill()
			<-h.exited
		}
	})
}

// Supervisor owns at most one agent server process.
type Supervisor struct {
	settings *config.Settings

	mu     sync.Mutex
	handle *Handle
}

// New creates a supervisor for the given settings.
func New(settings *config.Settings) *Supervisor {
	return &Supervisor{settings: settings}
}

// EnsureRunning returns the live handle, spawning and health-checking
// the server first if necessary. Any failure leaves the supervisor
// with no handle, so a retry starts from scratch.
func (s *Supervisor) EnsureRunning(ctx context.Context) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		select {
		case <-s.handle.exited:
			logger.Info("agent server exited, respawning")
			s.handle = nil
		default:
			return s.handle, nil
		}
	}

	handle, err := s.start(ctx)
	if err != nil {
		metrics.ServerSpawns.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ServerSpawns.WithLabelValues("ok").Inc()

	s.handle = handle
	return handle, nil
}

// URL returns the current server URL, or "" when no server is running.
func (s *Supervisor) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.URL
}

// Close terminates the server process if one is running. Idempotent.
func (s *Supervisor) Close() {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
}

func (s *Supervisor) start(ctx context.Context) (*Handle, error) {
	binary, err := ResolveBinary(s.settings.BinaryPath)
	if err != nil {
		return nil, err
	}

	port, fallback, err := ChoosePort(s.settings.Hostname, s.settings.Port)
	if err != nil {
		return nil, err
	}
	if fallback {
		logger.Info("port %d unavailable, using ephemeral port %d", s.settings.Port, port)
	}

	cmd := exec.Command(binary, "serve",
		fmt.Sprintf("--hostname=%s", s.settings.Hostname),
		fmt.Sprintf("--port=%d", port))
	cmd.Env = BuildEnv(s.settings)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent server %s: %w", binary, err)
	}

	handle := &Handle{
		URL:          fmt.Sprintf("http://%s:%d", s.settings.Hostname, port),
		Port:         port,
		FallbackUsed: fallback,
		cmd:          cmd,
		exited:       make(chan struct{}),
	}
	go func() {
		handle.exitErr = cmd.Wait()
		close(handle.exited)
	}()

	logger.Info("agent server started: pid=%d url=%s", cmd.Process.Pid, handle.URL)

	start := time.Now()
	if err := waitForHealth(ctx, transport.New(handle.URL), handle.exited, startTimeout); err != nil {
		handle.Stop()
		return nil, fmt.Errorf("agent server failed to start: %w", err)
	}
	metrics.HealthWaitDuration.Observe(time.Since(start).Seconds())

	return handle, nil
}

// waitForHealth polls the health endpoint until it answers with a
// success status, the process exits, or the deadline elapses. Each
// outcome is reported distinctly.
func waitForHealth(ctx context.Context, client *transport.Client, exited <-chan struct{}, timeout time.Duration) error {
	client.SetTimeout(2 * time.Second)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		resp, err := client.Do(ctx, http.MethodGet, healthPath, nil)
		if err == nil && resp.OK() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return ErrServerExited
		case <-deadline.C:
			return fmt.Errorf("timeout waiting for server health after %s", timeout)
		case <-ticker.C:
		}
	}
}
