// conduit launches and supervises a local agent server, then drives it
// with prompts: one-shot from the command line, or as an MCP stdio
// bridge so any MCP host can issue queries.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/HyphaGroup/conduit/internal/config"
	"github.com/HyphaGroup/conduit/internal/host"
	"github.com/HyphaGroup/conduit/internal/logger"
	"github.com/HyphaGroup/conduit/internal/query"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			cmdRun(os.Args[2:])
			return
		case "mcp":
			cmdMCP(os.Args[2:])
			return
		case "models":
			cmdModels(os.Args[2:])
			return
		case "--version", "-v":
			fmt.Printf("conduit %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}
	printUsage()
	os.Exit(2)
}

func printUsage() {
	fmt.Printf(`Conduit %s - Local AI agent server coordinator

Usage: conduit <command> [options]

Commands:
  run          Send one prompt and stream the response to stdout
  mcp          Run as an MCP stdio server exposing query tools
  models       List models the agent server offers

Common Options:
  --config <path>    Settings file (default: %s)

Run Options:
  --model <id>       Model as providerID/modelID
  --conversation <id> Conversation id for debug logs and session reuse
  --auto             Auto-approve permission requests
  --timeout <dur>    Abort the query after this duration (e.g. 2m)
  --file <path>      Attach a file (repeatable)

Examples:
  conduit run "explain this repo" --file main.go
  conduit run --model anthropic/claude-sonnet-4 "write a haiku"
  conduit mcp --config ./conduit.jsonc
  conduit models
`, Version, config.DefaultPath())
}

// repeatable --file flag
type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ",") }
func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func loadSettings(path string) *config.Settings {
	settings, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "conduit: %v\n", err)
		os.Exit(1)
	}
	return settings
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "settings file")
	model := fs.String("model", "", "model as providerID/modelID")
	conversation := fs.String("conversation", "", "conversation id")
	auto := fs.Bool("auto", false, "auto-approve permission requests")
	timeout := fs.Duration("timeout", 0, "query timeout")
	verbose := fs.Bool("verbose", false, "show tool calls and thinking")
	var files fileList
	fs.Var(&files, "file", "file to attach (repeatable)")
	_ = fs.Parse(args)

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		// No positional prompt: read it from stdin so the command
		// composes with pipes.
		data, err := io.ReadAll(os.Stdin)
		if err != nil || len(strings.TrimSpace(string(data))) == 0 {
			fmt.Fprintln(os.Stderr, "conduit run: no prompt given")
			os.Exit(2)
		}
		prompt = strings.TrimSpace(string(data))
	}

	settings := loadSettings(*configPath)
	if *auto {
		settings.PermissionMode = config.PermissionAuto
	}
	initLogger(settings, true)
	defer logger.Close()

	h, err := host.New(settings)
	if err != nil {
		fatalf("initializing: %v", err)
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	h.Start(ctx)

	opts := query.Options{
		Model:          *model,
		ConversationID: *conversation,
		Timeout:        *timeout,
	}
	for _, f := range files {
		opts.Mentions = append(opts.Mentions, query.Mention{Path: f})
	}

	ch, err := h.Query(ctx, prompt, opts)
	if err != nil {
		fatalf("query failed: %v", err)
	}

	exitCode := 0
	for chunk := range ch {
		switch chunk.Kind {
		case query.ChunkText:
			fmt.Print(chunk.Content)
		case query.ChunkThinking:
			if *verbose {
				fmt.Fprint(os.Stderr, chunk.Content)
			}
		case query.ChunkToolUse:
			if *verbose {
				fmt.Fprintf(os.Stderr, "\n[tool] %s\n", chunk.ToolName)
			}
		case query.ChunkToolResult:
			if *verbose && chunk.Result != "" {
				fmt.Fprintf(os.Stderr, "[result] %s\n", truncate(chunk.Result, 200))
			}
		case query.ChunkPermissionRequest:
			// Non-interactive host: approve and note it.
			if chunk.Permission != nil {
				fmt.Fprintf(os.Stderr, "\n[permission approved] %s\n", chunk.Permission.ID)
				if err := h.Sessions().ReplyPermission(ctx, chunk.Permission.ID, true); err != nil {
					logger.Error("permission reply failed: %v", err)
				}
			}
		case query.ChunkError:
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", chunk.Content)
			exitCode = 1
		case query.ChunkDone:
			fmt.Println()
		}
	}
	os.Exit(exitCode)
}

func cmdModels(args []string) {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
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

	catalog, err := h.Providers(ctx)
	if err != nil {
		fatalf("fetching models: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tNAME\tDEFAULT")
	for _, p := range catalog.Providers {
		for id, m := range p.Models {
			def := ""
			if catalog.Default[p.ID] == id {
				def = "*"
			}
			fmt.Fprintf(w, "%s/%s\t%s\t%s\n", p.ID, id, m.Name, def)
		}
	}
	_ = w.Flush()
}

func initLogger(settings *config.Settings, console bool) {
	if err := logger.Init(settings.LogDir, logger.Options{
		Console: console,
		Debug:   settings.DebugLogging,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "conduit: logger init failed: %v\n", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "conduit: "+format+"\n", args...)
	logger.Close()
	os.Exit(1)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
