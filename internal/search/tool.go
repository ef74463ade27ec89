package search

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Tool metadata advertised to the model.
const (
	ToolName        = "websearch"
	ToolDescription = "Search the latest information and real-time data on the internet."
)

// ToolHandler returns a function compatible with the tools.Tool Handler
// signature. It never returns an error: every failure, including a
// missing credential, becomes a result string the model can read.
// Every query is sent with opts; a zero Count means MaxFormattedResults.
func ToolHandler(mgr *Manager, logger *slog.Logger, opts Options) func(ctx context.Context, args map[string]any) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Count <= 0 {
		opts.Count = MaxFormattedResults
	}
	maxResults := opts.Count

	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		query = strings.TrimSpace(query)
		if query == "" {
			return "An error occurred during web search: query is required", nil
		}

		start := time.Now()
		results, err := mgr.Search(ctx, query, opts)
		if err != nil {
			logger.Warn("web search failed",
				"provider", mgr.Primary(),
				"query", query,
				"error", err,
			)
			return "An error occurred during web search: " + err.Error(), nil
		}

		logger.Debug("web search",
			"provider", mgr.Primary(),
			"query", query,
			"language", opts.Language,
			"results", len(results),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)

		return FormatResults(query, results, min(maxResults, MaxFormattedResults)), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the websearch tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query to perform.",
			},
		},
		"required": []string{"query"},
	}
}
