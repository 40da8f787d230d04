// Package host wires the coordinator together: supervisor, transport,
// event bus, session manager, debug log, and query coordinator, all
// built from one Settings value.
package host

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/HyphaGroup/conduit/internal/bus"
	"github.com/HyphaGroup/conduit/internal/config"
	"github.com/HyphaGroup/conduit/internal/debuglog"
	"github.com/HyphaGroup/conduit/internal/logger"
	"github.com/HyphaGroup/conduit/internal/metrics"
	"github.com/HyphaGroup/conduit/internal/query"
	"github.com/HyphaGroup/conduit/internal/session"
	"github.com/HyphaGroup/conduit/internal/supervisor"
	"github.com/HyphaGroup/conduit/internal/transport"
)

// Host owns one coordinator stack for the lifetime of the process.
type Host struct {
	settings *config.Settings

	supervisor *supervisor.Supervisor
	bus        *bus.Bus
	sessions   *session.Manager
	coord      *query.Coordinator
	recorder   *debuglog.Recorder
	sweeper    *debuglog.Sweeper
	store      *session.Store

	mu         sync.Mutex
	lastHandle *supervisor.Handle
}

// New builds a Host from settings. The server is not spawned here; it
// starts lazily on the first call that needs it.
func New(settings *config.Settings) (*Host, error) {
	h := &Host{
		settings:   settings,
		supervisor: supervisor.New(settings),
	}

	if settings.DataDir != "" {
		store, err := session.NewStore(settings.DataDir)
		if err != nil {
			return nil, err
		}
		h.store = store
	}

	h.recorder = debuglog.NewRecorder(settings.LogDir, settings.DebugLogging)
	if settings.RetentionDays > 0 {
		h.sweeper = debuglog.NewSweeper(settings.LogDir,
			time.Duration(settings.RetentionDays)*24*time.Hour)
	}

	h.sessions = session.NewManager(h.client, settings.PermissionMode)
	h.bus = bus.New(h.connectEvents)
	h.coord = query.New(query.Config{
		Sessions:     h.sessions,
		Bus:          h.bus,
		Client:       h.client,
		Recorder:     h.recorder,
		Store:        h.store,
		DefaultModel: settings.Model,
	})
	return h, nil
}

// Start begins the background pieces: the event bus and the debug-log
// retention sweeper. Idempotent via the bus's own guard.
func (h *Host) Start(ctx context.Context) {
	h.bus.Start(ctx)
	if h.sweeper != nil {
		h.sweeper.Start()
	}
	if h.settings.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(h.settings.MetricsAddr); err != nil {
				logger.Error("metrics listener failed: %v", err)
			}
		}()
	}
}

// Close tears the stack down in reverse order. The server process is
// stopped last so in-flight aborts can still reach it.
func (h *Host) Close() {
	if h.sweeper != nil {
		h.sweeper.Stop()
	}
	h.bus.Close()
	h.supervisor.Close()
	if h.store != nil {
		if err := h.store.Close(); err != nil {
			logger.Error("closing store: %v", err)
		}
	}
}

// client ensures the server is running and returns a transport client
// bound to its current address. A re-spawned server invalidates the
// cached session, whatever address it came back on.
func (h *Host) client(ctx context.Context) (*transport.Client, error) {
	handle, err := h.supervisor.EnsureRunning(ctx)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.lastHandle != nil && h.lastHandle != handle {
		logger.Info("server restarted, resetting session")
		h.sessions.Reset()
	}
	h.lastHandle = handle
	h.mu.Unlock()

	return transport.New(handle.URL), nil
}

// connectEvents opens the single server-sent-event stream the bus
// consumes.
func (h *Host) connectEvents(ctx context.Context) (io.ReadCloser, error) {
	client, err := h.client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Stream(ctx, "/event")
}

// Query runs one prompt through the coordinator. When a conversation id
// is given and a store is configured, the session id is adopted from
// and persisted back to the store, so a restarted host resumes the
// same server session.
func (h *Host) Query(ctx context.Context, prompt string, opts query.Options) (<-chan query.Chunk, error) {
	// The bus lives for the host's lifetime, not the query's.
	h.bus.Start(context.Background())

	if h.store != nil && opts.ConversationID != "" && h.sessions.SessionID() == "" {
		if id, err := h.store.LookupSessionID(opts.ConversationID); err == nil {
			h.sessions.SetSessionID(id)
		}
	}

	ch, err := h.coord.Query(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}

	if h.store != nil && opts.ConversationID != "" {
		if id := h.sessions.SessionID(); id != "" {
			if err := h.store.SaveSessionID(opts.ConversationID, id); err != nil {
				logger.Error("persisting session id: %v", err)
			}
		}
	}
	return ch, nil
}

// Send performs a blocking single-answer exchange without the event
// stream.
func (h *Host) Send(ctx context.Context, prompt string) (string, error) {
	return h.sessions.Send(ctx, prompt)
}

// ResetSession drops the cached session; the next query creates a
// fresh one. When a conversation id is given its stored mapping is
// forgotten too.
func (h *Host) ResetSession(conversationID string) {
	h.sessions.Reset()
	if h.store != nil && conversationID != "" {
		if err := h.store.Forget(conversationID); err != nil {
			logger.Error("forgetting conversation: %v", err)
		}
	}
}

// Sessions exposes the session manager for permission replies and
// revert calls.
func (h *Host) Sessions() *session.Manager { return h.sessions }

// Providers fetches the server's model catalog.
func (h *Host) Providers(ctx context.Context) (*query.Catalog, error) {
	return h.coord.Providers(ctx)
}

// Agents fetches the server's agent catalog.
func (h *Host) Agents(ctx context.Context) ([]query.Agent, error) {
	return h.coord.Agents(ctx)
}

// ServerURL reports the supervised server's address, empty until it
// has been spawned.
func (h *Host) ServerURL() string { return h.supervisor.URL() }
