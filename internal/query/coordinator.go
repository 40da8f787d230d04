// Package query turns one prompt plus the shared event stream into an
// ordered, cancellable sequence of typed response chunks.
//
// A query ensures the session exists, opens a session-filtered view
// over the event bus, fires the prompt asynchronously, and then
// interprets events into chunks until the server goes idle, an error
// occurs, or the caller cancels. Every path ends with exactly one
// ChunkDone, and every query appends one debug-turn record.
package query

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/HyphaGroup/conduit/internal/bus"
	"github.com/HyphaGroup/conduit/internal/config"
	"github.com/HyphaGroup/conduit/internal/debuglog"
	"github.com/HyphaGroup/conduit/internal/event"
	"github.com/HyphaGroup/conduit/internal/logger"
	"github.com/HyphaGroup/conduit/internal/metrics"
	"github.com/HyphaGroup/conduit/internal/session"
)

// finalEmitTimeout bounds delivery of the trailing error/done chunks
// to a caller that stopped draining.
const finalEmitTimeout = 5 * time.Second

// Coordinator is the top-level query entry point. One instance serves
// one plugin lifetime; callers issue one query at a time.
type Coordinator struct {
	sessions     *session.Manager
	bus          *bus.Bus
	client       session.ClientFunc
	recorder     *debuglog.Recorder
	store        *session.Store // optional turn bookkeeping
	defaultModel string
}

// Config wires a Coordinator.
type Config struct {
	Sessions     *session.Manager
	Bus          *bus.Bus
	Client       session.ClientFunc
	Recorder     *debuglog.Recorder
	Store        *session.Store
	DefaultModel string
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		sessions:     cfg.Sessions,
		bus:          cfg.Bus,
		client:       cfg.Client,
		recorder:     cfg.Recorder,
		store:        cfg.Store,
		defaultModel: cfg.DefaultModel,
	}
}

// Query starts one query. Initialization failures (server spawn,
// session creation) are returned directly, before any chunk exists.
// Once a channel is returned, the caller must drain it until ChunkDone;
// cancelling ctx aborts the query and still delivers a final done.
func (c *Coordinator) Query(ctx context.Context, prompt string, opts Options) (<-chan Chunk, error) {
	var (
		qctx   context.Context
		cancel context.CancelFunc
	)
	if opts.Timeout > 0 {
		qctx, cancel = context.WithTimeoutCause(ctx, opts.Timeout, errQueryTimeout)
	} else {
		qctx, cancel = context.WithCancel(ctx)
	}

	sessionID, err := c.ensureSession(qctx, opts.PermissionMode)
	if err != nil {
		cancel()
		return nil, err
	}

	// Subscribe before sending so no event can slip between the
	// prompt submission and the filtered view.
	events, unsubscribe := c.bus.SubscribeChan(func(ev *event.Event) bool {
		return ev.MatchesSession(sessionID)
	})

	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- c.sendPrompt(qctx, sessionID, prompt, model, opts)
	}()

	out := make(chan Chunk, 16)
	go c.consume(qctx, cancel, consumeState{
		out:         out,
		events:      events,
		unsubscribe: unsubscribe,
		sendErr:     sendErr,
		sessionID:   sessionID,
		prompt:      prompt,
		model:       model,
		opts:        opts,
	})

	return out, nil
}

// ensureSession applies a per-query permission mode only around the
// session-creation call, restoring the prior mode immediately whether
// or not creation succeeded.
func (c *Coordinator) ensureSession(ctx context.Context, mode config.PermissionMode) (string, error) {
	if mode == "" {
		return c.sessions.EnsureSession(ctx)
	}
	prev := c.sessions.PermissionMode()
	c.sessions.SetPermissionMode(mode)
	id, err := c.sessions.EnsureSession(ctx)
	c.sessions.SetPermissionMode(prev)
	return id, err
}

// sendPrompt fires the asynchronous prompt submission. The result
// arrives via the event stream; this call only reports transport-level
// acceptance.
func (c *Coordinator) sendPrompt(ctx context.Context, sessionID, prompt, model string, opts Options) error {
	client, err := c.client(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{
		"parts": buildParts(prompt, opts),
	}
	if len(opts.AllowedTools) > 0 {
		tools := make(map[string]bool, len(opts.AllowedTools))
		for _, name := range opts.AllowedTools {
			tools[name] = true
		}
		body["tools"] = tools
	}
	if providerID, modelID := resolveModel(model); modelID != "" {
		body["model"] = map[string]string{
			"providerID": providerID,
			"modelID":    modelID,
		}
	}

	resp, err := client.Do(ctx, http.MethodPost, "/session/"+sessionID+"/prompt_async", body)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return resp.Err()
	}
	return nil
}

type consumeState struct {
	out         chan Chunk
	events      <-chan *event.Event
	unsubscribe func()
	sendErr     <-chan error
	sessionID   string
	prompt      string
	model       string
	opts        Options
}

// consume is the event-interpretation loop. It owns the out channel
// and the bus subscription.
func (c *Coordinator) consume(ctx context.Context, cancel context.CancelFunc, st consumeState) {
	start := time.Now()
	var observed []*event.Event
	seenResults := make(map[string]bool)

	outcome := "idle"
	var warning string
	var finalErr *Chunk
	var sendFailure error

loop:
	for {
		select {
		case <-ctx.Done():
			cause := context.Cause(ctx)
			if errors.Is(cause, errQueryTimeout) {
				outcome = "error"
				finalErr = &Chunk{Kind: ChunkError, Content: userMessage(ErrorTimeout, cause)}
			} else {
				// Manual cancellation is not a failure.
				outcome = "cancelled"
				c.abortSession(st.sessionID)
			}
			break loop

		case err := <-st.sendErr:
			// A client-side send failure does not mean the server
			// rejected the prompt: the POST can fail locally after the
			// server accepted it, with events still flowing. Stash the
			// error; it surfaces only if the stream ends without a
			// terminal signal.
			st.sendErr = nil
			if err != nil {
				logger.Debug("prompt send failed: %v", err)
				sendFailure = err
			}

		case ev, ok := <-st.events:
			if !ok {
				if sendFailure != nil && Classify(sendFailure) != ErrorCancelled {
					outcome = "error"
					finalErr = &Chunk{Kind: ChunkError, Content: userMessage(Classify(sendFailure), sendFailure)}
				} else {
					warning = "event stream ended before session idle"
				}
				break loop
			}
			observed = append(observed, ev)

			chunk, terminal := translate(ev, seenResults)
			if chunk != nil {
				if chunk.Kind == ChunkError {
					outcome = "error"
					finalErr = chunk
					break loop
				}
				if !c.emit(ctx, st.out, *chunk) {
					// Caller cancelled while we were blocked; the
					// ctx.Done branch settles the outcome next turn.
					continue
				}
			}
			if terminal {
				break loop
			}
		}
	}

	st.unsubscribe()
	cancel()

	duration := time.Since(start)
	c.recorder.Append(&debuglog.Turn{
		ConversationID: st.opts.ConversationID,
		UserPrompt:     st.prompt,
		Events:         observed,
		Meta: debuglog.Meta{
			DurationMs:   duration.Milliseconds(),
			Model:        st.model,
			MentionCount: len(st.opts.Mentions),
			Outcome:      outcome,
			Warning:      warning,
		},
	})
	if c.store != nil {
		conversationID := st.opts.ConversationID
		if conversationID == "" {
			conversationID = "default"
		}
		if err := c.store.RecordTurn(conversationID, st.model, outcome, duration); err != nil {
			logger.Error("failed to record turn: %v", err)
		}
	}

	metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	metrics.QueryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if warning != "" {
		logger.Error("query ended without idle: %s", warning)
	}

	if finalErr != nil {
		c.emitFinal(st.out, *finalErr)
	}
	c.emitFinal(st.out, Chunk{Kind: ChunkDone})
	close(st.out)
}

// translate maps one event to at most one chunk per the protocol
// mapping, reporting whether the event terminates the query.
func translate(ev *event.Event, seenResults map[string]bool) (chunk *Chunk, terminal bool) {
	switch {
	case ev.Permission != nil:
		return &Chunk{Kind: ChunkPermissionRequest, Permission: ev.Permission}, false

	case ev.Part != nil:
		return translatePart(ev.Part, seenResults), false

	case ev.Error != nil:
		return &Chunk{Kind: ChunkError, Content: ev.Error.Message()}, true

	case ev.IsIdle():
		return nil, true

	case ev.Type == event.TypeMessageUpdated && ev.Message != nil:
		chunk := &Chunk{
			Kind:      ChunkServerMessage,
			Role:      ev.Message.Role,
			MessageID: ev.Message.ID,
		}
		return chunk, ev.AssistantDone()
	}
	return nil, false
}

func translatePart(update *event.PartUpdate, seenResults map[string]bool) *Chunk {
	part := update.Part

	switch part.Type {
	case event.PartTypeText:
		if update.Delta == "" {
			// Full re-emits carry no delta; emitting them would repeat
			// already-streamed text.
			return nil
		}
		return &Chunk{Kind: ChunkText, Content: update.Delta}

	case event.PartTypeReasoning:
		if update.Delta == "" {
			return nil
		}
		return &Chunk{Kind: ChunkThinking, Content: update.Delta}

	case event.PartTypeTool:
		if part.State == nil {
			return nil
		}
		id := part.CallID
		if id == "" {
			id = part.ID
		}

		switch part.State.Status {
		case event.ToolStatusPending, event.ToolStatusRunning:
			if part.State.Status == event.ToolStatusPending && len(part.State.Input) == 0 {
				// Spurious placeholder the server emits before the
				// tool call has any input.
				return nil
			}
			return &Chunk{
				Kind:      ChunkToolUse,
				ToolName:  part.Tool,
				ToolInput: part.State.Input,
				ToolUseID: id,
			}

		case event.ToolStatusCompleted:
			if seenResults[id] {
				return nil
			}
			seenResults[id] = true
			text, attachments := part.State.OutputText()
			return &Chunk{
				Kind:        ChunkToolResult,
				ToolUseID:   id,
				Result:      text,
				Attachments: attachments,
			}

		case event.ToolStatusError:
			if seenResults[id] {
				return nil
			}
			seenResults[id] = true
			return &Chunk{
				Kind:      ChunkToolResult,
				ToolUseID: id,
				Result:    "Error: " + part.State.Error,
			}
		}
	}
	return nil
}

// emit delivers a mid-stream chunk, giving up if the query context
// dies while the caller is not draining.
func (c *Coordinator) emit(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		metrics.ChunksEmitted.WithLabelValues(string(chunk.Kind)).Inc()
		return true
	case <-ctx.Done():
		return false
	}
}

// emitFinal delivers a terminal chunk with a bounded wait so an
// abandoned caller cannot leak this goroutine.
func (c *Coordinator) emitFinal(out chan<- Chunk, chunk Chunk) {
	select {
	case out <- chunk:
		metrics.ChunksEmitted.WithLabelValues(string(chunk.Kind)).Inc()
	case <-time.After(finalEmitTimeout):
		logger.Error("caller stopped draining, dropping final %s chunk", chunk.Kind)
	}
}

// abortSession tells the server to stop the in-flight turn. Best
// effort: the local cancellation already settles the caller.
func (c *Coordinator) abortSession(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := c.client(ctx)
	if err != nil {
		return
	}
	if _, err := client.Do(ctx, http.MethodPost, "/session/"+sessionID+"/abort", nil); err != nil {
		logger.Debug("abort request failed: %v", err)
	}
}
