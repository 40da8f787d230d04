package query

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/HyphaGroup/conduit/internal/config"
)

// defaultProvider qualifies bare model names.
const defaultProvider = "anthropic"

// Mention is a file or folder reference attached to a prompt.
type Mention struct {
	Path     string   // absolute or relative filesystem path
	Folder   bool     // folder reference
	Children []string // flat child names, folders only
}

// Options configures a single query. Immutable for its duration.
type Options struct {
	// Model in "providerID/modelID" form. A bare model id gets the
	// default provider. Empty uses the coordinator default.
	Model string

	// PermissionMode, when set, applies only if this query creates the
	// session; the prior mode is restored immediately afterwards.
	PermissionMode config.PermissionMode

	// AllowedTools restricts which server-side tools this query may
	// use. Empty means no restriction.
	AllowedTools []string

	// Mentions are attached ahead of the prompt text.
	Mentions []Mention

	// MentionContexts carries pre-read contents for mention paths,
	// keyed by Mention.Path, for files the server cannot open itself.
	MentionContexts map[string]string

	// Agent selects a named server-side agent.
	Agent string

	// ConversationID keys the debug-turn file. Empty uses "default".
	ConversationID string

	// Timeout bounds the whole query. Zero means no deadline.
	Timeout time.Duration
}

// resolveModel splits a model string into provider and model ids,
// qualifying bare names with the default provider.
func resolveModel(model string) (providerID, modelID string) {
	if model == "" {
		return "", ""
	}
	if provider, id, ok := strings.Cut(model, "/"); ok {
		return provider, id
	}
	return defaultProvider, model
}

// buildParts assembles the prompt-send parts: mention parts first,
// then an optional agent part, then the prompt text last.
func buildParts(prompt string, opts Options) []map[string]any {
	parts := make([]map[string]any, 0, len(opts.Mentions)+2)

	for _, m := range opts.Mentions {
		part := map[string]any{
			"type":     "file",
			"url":      fileURL(m.Path),
			"filename": filepath.Base(m.Path),
		}
		if m.Folder {
			part["directory"] = true
			if len(m.Children) > 0 {
				part["children"] = m.Children
			}
		}
		parts = append(parts, part)

		if content, ok := opts.MentionContexts[m.Path]; ok && content != "" {
			parts = append(parts, map[string]any{
				"type": "text",
				"text": content,
			})
		}
	}

	if opts.Agent != "" {
		parts = append(parts, map[string]any{
			"type": "agent",
			"name": opts.Agent,
		})
	}

	parts = append(parts, map[string]any{
		"type": "text",
		"text": prompt,
	})

	return parts
}

// fileURL converts a filesystem path to an absolute, normalized
// file:// URL.
func fileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	abs = filepath.ToSlash(filepath.Clean(abs))
	if !strings.HasPrefix(abs, "/") {
		abs = "/" + abs
	}
	u := url.URL{Scheme: "file", Path: abs}
	return u.String()
}
