package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/justafolk/xtrc/internal/config"
	"github.com/justafolk/xtrc/internal/daemon"
	"github.com/justafolk/xtrc/internal/embed"
	"github.com/justafolk/xtrc/internal/logging"
	"github.com/justafolk/xtrc/internal/output"
	"github.com/justafolk/xtrc/internal/search"
	"github.com/justafolk/xtrc/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit  int
	format string // "text", "json"
	local  bool   // force local search (bypass daemon)
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase using the hybrid scorer.

Combines vector similarity, keyword overlap, symbol matching, intent
tagging and structural signals into a single ranked list, optionally
reranked and gated by an LLM collaborator.

Examples:
  xtrc search "authentication middleware"
  xtrc search "handleRequest" --limit 5
  xtrc search "error handling" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Force local search (bypass daemon)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", opts.limit))
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".xtrc")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'xtrc index' first")
	}

	daemonCfg := daemon.DefaultConfig()
	client := daemon.NewClient(daemonCfg)
	if !opts.local && client.IsRunning() {
		slog.Info("search_using_daemon")
		resp, err := client.Query(ctx, daemon.QueryRequest{RepoPath: root, Query: query, TopK: opts.limit})
		if err != nil {
			slog.Warn("daemon query failed, falling back to local", slog.String("error", err.Error()))
		} else {
			slog.Info("search_complete", slog.String("mode", "daemon"), slog.Int("results", len(resp.Results)))
			return formatDaemonResults(cmd, out, query, resp)
		}
	}

	slog.Info("search_using_local")
	return runLocalSearch(ctx, cmd, root, query, opts)
}

// runLocalSearch performs search without the daemon, opening the repo's
// stores directly in-process.
func runLocalSearch(ctx context.Context, cmd *cobra.Command, root, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())
	dataDir := filepath.Join(root, ".xtrc")

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})

	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	vectorConfig := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	engineConfig := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineConfig.DefaultLimit = cfg.Search.MaxResults
	}
	if cfg.Search.LocalRerankerTopK > 0 {
		engineConfig.RerankerTopK = cfg.Search.LocalRerankerTopK
	}

	engine := search.New(vector, embedder, metadata, engineConfig)

	results, err := engine.Search(ctx, query, search.SearchOptions{Limit: opts.limit})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Info("search_complete", slog.String("mode", "local"), slog.Int("results", len(results)))

	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch opts.format {
	case "json":
		return formatJSON(cmd, results)
	default:
		return formatText(out, query, results)
	}
}

// formatDaemonResults formats search results returned by the daemon.
func formatDaemonResults(cmd *cobra.Command, out *output.Writer, query string, resp *daemon.QueryResponse) error {
	if len(resp.Results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch cmd.Flag("format").Value.String() {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	default:
		if resp.RewrittenQuery != "" {
			out.Status("", fmt.Sprintf("Rewritten query: %q", resp.RewrittenQuery))
		}
		out.Statusf("🔍", "Found %d results for %q:", len(resp.Results), query)
		out.Newline()

		for i, r := range resp.Results {
			location := r.FilePath
			if r.StartLine > 0 {
				location = fmt.Sprintf("%s:%d", r.FilePath, r.StartLine)
			}
			label := location
			if r.Symbol != "" {
				label = fmt.Sprintf("%s (%s)", location, r.Symbol)
			}
			out.Statusf("", "%d. %s (score: %.3f)", i+1, label, r.Score)
			if r.Description != "" {
				out.Status("", "   "+r.Description)
			}
			out.Newline()
		}
		return nil
	}
}

// formatText outputs results in human-readable format.
func formatText(out *output.Writer, query string, results []*search.SearchResult) error {
	out.Statusf("🔍", "Found %d results for %q:", len(results), query)
	out.Newline()

	for i, r := range results {
		location := r.FilePath
		if r.StartLine > 0 {
			location = fmt.Sprintf("%s:%d", r.FilePath, r.StartLine)
		}
		label := location
		if r.Symbol != "" {
			label = fmt.Sprintf("%s (%s)", location, r.Symbol)
		}
		out.Statusf("", "%d. %s (score: %.2f)", i+1, label, r.Score)

		snippet := getSnippet(r.Content, 3)
		for _, line := range snippet {
			out.Status("", "   "+line)
		}
		out.Newline()
	}

	return nil
}

// formatJSON outputs results in JSON format.
func formatJSON(cmd *cobra.Command, results []*search.SearchResult) error {
	type jsonResult struct {
		FilePath  string  `json:"file_path"`
		StartLine int     `json:"start_line"`
		EndLine   int     `json:"end_line"`
		Symbol    string  `json:"symbol,omitempty"`
		Score     float32 `json:"score"`
		Content   string  `json:"content"`
	}

	var out []jsonResult
	for _, r := range results {
		out = append(out, jsonResult{
			FilePath:  r.FilePath,
			StartLine: r.StartLine,
			EndLine:   r.EndLine,
			Symbol:    r.Symbol,
			Score:     r.Score,
			Content:   r.Content,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// getSnippet returns the first n lines of content.
func getSnippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
