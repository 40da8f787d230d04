package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/conduit/internal/config"
	"github.com/HyphaGroup/conduit/internal/host"
	"github.com/HyphaGroup/conduit/internal/logger"
	"github.com/HyphaGroup/conduit/internal/query"
)

// cmdMCP runs conduit as an MCP server over stdio. Stdout belongs to
// the MCP transport, so the logger runs file-only.
func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "settings file")
	_ = fs.Parse(args)

	settings := loadSettings(*configPath)
	initLogger(settings, false)
	defer logger.Close()

	h, err := host.New(settings)
	if err != nil {
		fatalf("initializing: %v", err)
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	h.Start(ctx)

	b := &bridge{host: h}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "conduit",
		Version: Version,
	}, &mcp.ServerOptions{
		HasTools: true,
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query",
		Description: "Send a prompt to the local agent server and return the complete response. Tool calls made by the agent are summarized in the output.",
		InputSchema: queryInputSchema(),
	}, b.handleQuery)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset_session",
		Description: "Drop the current agent session. The next query starts a fresh conversation with no prior context.",
	}, b.handleResetSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_models",
		Description: "List the models the agent server offers, as providerID/modelID identifiers.",
	}, b.handleListModels)

	logger.Info("mcp bridge started")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		fatalf("mcp server error: %v", err)
	}
}

type bridge struct {
	host *host.Host
}

// queryInputSchema spells the query tool's contract out instead of
// relying on reflection, so prompt is marked required on the wire.
func queryInputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"prompt"},
		Properties: map[string]*jsonschema.Schema{
			"prompt": {
				Type:        "string",
				Description: "the prompt to send to the agent",
			},
			"model": {
				Type:        "string",
				Description: "model as providerID/modelID; empty uses the configured default",
			},
			"conversation_id": {
				Type:        "string",
				Description: "conversation id for session reuse and debug logs",
			},
			"files": {
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string"},
				Description: "file paths to attach ahead of the prompt",
			},
			"timeout_seconds": {
				Type:        "integer",
				Description: "abort the query after this many seconds; 0 means no limit",
			},
		},
	}
}

type QueryInput struct {
	Prompt         string   `json:"prompt" jsonschema:"the prompt to send to the agent"`
	Model          string   `json:"model,omitempty" jsonschema:"model as providerID/modelID; empty uses the configured default"`
	ConversationID string   `json:"conversation_id,omitempty" jsonschema:"conversation id for session reuse and debug logs"`
	Files          []string `json:"files,omitempty" jsonschema:"file paths to attach ahead of the prompt"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" jsonschema:"abort the query after this many seconds; 0 means no limit"`
}

type QueryOutput struct {
	Text      string   `json:"text"`
	ToolCalls []string `json:"tool_calls,omitempty"`
	Outcome   string   `json:"outcome"`
}

func (b *bridge) handleQuery(ctx context.Context, req *mcp.CallToolRequest, input QueryInput) (*mcp.CallToolResult, any, error) {
	if input.Prompt == "" {
		return nil, QueryOutput{}, fmt.Errorf("prompt is required")
	}

	opts := query.Options{
		Model:          input.Model,
		ConversationID: input.ConversationID,
		Timeout:        time.Duration(input.TimeoutSeconds) * time.Second,
	}
	for _, f := range input.Files {
		opts.Mentions = append(opts.Mentions, query.Mention{Path: f})
	}

	ch, err := b.host.Query(ctx, input.Prompt, opts)
	if err != nil {
		return nil, QueryOutput{}, fmt.Errorf("query failed: %w", err)
	}

	var text strings.Builder
	var toolCalls []string
	outcome := "ok"
	var queryErr string

	for chunk := range ch {
		switch chunk.Kind {
		case query.ChunkText:
			text.WriteString(chunk.Content)
		case query.ChunkToolUse:
			toolCalls = append(toolCalls, chunk.ToolName)
		case query.ChunkPermissionRequest:
			// Stdio hosts cannot answer interactively; approve and log.
			if chunk.Permission != nil {
				logger.Info("auto-approving permission %s", chunk.Permission.ID)
				if err := b.host.Sessions().ReplyPermission(ctx, chunk.Permission.ID, true); err != nil {
					logger.Error("permission reply failed: %v", err)
				}
			}
		case query.ChunkError:
			outcome = "error"
			queryErr = chunk.Content
		}
	}

	if outcome == "error" {
		return nil, QueryOutput{}, fmt.Errorf("agent error: %s", queryErr)
	}
	return nil, QueryOutput{
		Text:      text.String(),
		ToolCalls: toolCalls,
		Outcome:   outcome,
	}, nil
}

type ResetSessionInput struct {
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"conversation whose stored session mapping to forget"`
}

type ResetSessionOutput struct {
	Reset bool `json:"reset"`
}

func (b *bridge) handleResetSession(ctx context.Context, req *mcp.CallToolRequest, input ResetSessionInput) (*mcp.CallToolResult, any, error) {
	b.host.ResetSession(input.ConversationID)
	return nil, ResetSessionOutput{Reset: true}, nil
}

type ListModelsInput struct{}

type ListModelsOutput struct {
	Models []string `json:"models"`
}

func (b *bridge) handleListModels(ctx context.Context, req *mcp.CallToolRequest, input ListModelsInput) (*mcp.CallToolResult, any, error) {
	catalog, err := b.host.Providers(ctx)
	if err != nil {
		return nil, ListModelsOutput{}, fmt.Errorf("fetching models: %w", err)
	}
	return nil, ListModelsOutput{Models: catalog.ModelIDs()}, nil
}
