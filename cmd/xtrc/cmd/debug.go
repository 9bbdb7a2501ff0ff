package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/justafolk/xtrc/internal/config"
	"github.com/justafolk/xtrc/internal/store"
)

// DebugInfo is the structured dump emitted by 'xtrc debug' and '--json'.
type DebugInfo struct {
	ProjectRoot      string             `json:"project_root"`
	IndexPath        string             `json:"index_path"`
	FileCount        int                `json:"file_count"`
	ChunkCount       int                `json:"chunk_count"`
	Languages        map[string]float64 `json:"languages"`
	LastIndexed      time.Time          `json:"last_indexed"`
	EmbedderProvider string             `json:"embedder_provider"`
	EmbedderModel    string             `json:"embedder_model"`
	EmbeddedChunks   int                `json:"embedded_chunks"`
	MissingEmbedding int                `json:"missing_embedding"`
	VectorCount      int                `json:"vector_count"`
	MetadataBytes    int64              `json:"metadata_bytes"`
	VectorBytes      int64              `json:"vector_bytes"`
}

func newDebugCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Dump detailed internal index state for troubleshooting",
		Long: `Print a detailed breakdown of the index for the current project:
file and chunk counts, language distribution, embedder configuration,
embedding coverage, vector store size, and on-disk storage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebug(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDebug(cmd *cobra.Command, jsonOutput bool) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve project root: %w", err)
		}
	}

	dataDir := filepath.Join(root, ".xtrc")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found in %s\nRun 'xtrc index' to create one", root)
	}

	info, err := collectDebugInfo(cmd.Context(), root, dataDir)
	if err != nil {
		return fmt.Errorf("failed to collect debug info: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	renderDebugInfo(cmd, info)
	return nil
}

func collectDebugInfo(ctx context.Context, root, dataDir string) (DebugInfo, error) {
	info := DebugInfo{
		ProjectRoot: root,
		IndexPath:   dataDir,
		Languages:   map[string]float64{},
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return info, fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	projectID := hashString(root)
	project, err := metadata.GetProject(ctx, projectID)
	if err == nil && project != nil {
		info.FileCount = project.FileCount
		info.ChunkCount = project.ChunkCount
		info.LastIndexed = project.IndexedAt
	}

	langCounts := map[string]int{}
	cursor := ""
	for {
		files, next, err := metadata.ListFiles(ctx, projectID, cursor, 500)
		if err != nil {
			break
		}
		for _, f := range files {
			ext := normalizeExtension(strings.TrimPrefix(filepath.Ext(f.Path), "."))
			if ext == "" {
				continue
			}
			langCounts[ext]++
		}
		if next == "" || len(files) == 0 {
			break
		}
		cursor = next
	}
	info.Languages = languageFractions(langCounts)

	withEmbedding, withoutEmbedding, err := metadata.GetEmbeddingStats(ctx)
	if err == nil {
		info.EmbeddedChunks = withEmbedding
		info.MissingEmbedding = withoutEmbedding
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}
	info.EmbedderProvider = cfg.Embeddings.Provider
	if info.EmbedderProvider == "" {
		info.EmbedderProvider = "auto"
	}
	info.EmbedderModel = cfg.Embeddings.Model

	info.MetadataBytes = getFileSize(metadataPath)

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	info.VectorBytes = getFileSize(vectorPath)
	if vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(768)); err == nil {
		if err := vs.Load(vectorPath); err == nil {
			info.VectorCount = vs.Count()
		}
		_ = vs.Close()
	}

	return info, nil
}

func renderDebugInfo(cmd *cobra.Command, info DebugInfo) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "xtrc Debug Info")
	fmt.Fprintln(out, strings.Repeat("=", 40))
	fmt.Fprintf(out, "Project root: %s\n", info.ProjectRoot)
	fmt.Fprintf(out, "Index path:   %s\n", info.IndexPath)
	fmt.Fprintf(out, "Last indexed: %s\n", formatAge(info.LastIndexed))

	fmt.Fprintln(out, "\nFILES & CHUNKS")
	fmt.Fprintf(out, "  Files:      %s\n", formatNumber(info.FileCount))
	fmt.Fprintf(out, "  Chunks:     %s\n", formatNumber(info.ChunkCount))
	fmt.Fprintf(out, "  Languages:  %s\n", formatLanguages(info.Languages))

	fmt.Fprintln(out, "\nEMBEDDER")
	fmt.Fprintf(out, "  Provider:   %s\n", info.EmbedderProvider)
	fmt.Fprintf(out, "  Model:      %s\n", info.EmbedderModel)
	fmt.Fprintf(out, "  Embedded:   %s chunks (%s missing)\n",
		formatNumber(info.EmbeddedChunks), formatNumber(info.MissingEmbedding))

	fmt.Fprintln(out, "\nVECTOR STORE")
	fmt.Fprintf(out, "  Vectors:    %s\n", formatNumber(info.VectorCount))
	fmt.Fprintf(out, "  Size:       %s\n", formatBytes(info.VectorBytes))

	fmt.Fprintln(out, "\nSTORAGE")
	fmt.Fprintf(out, "  Metadata:   %s\n", formatBytes(info.MetadataBytes))
	fmt.Fprintf(out, "  Vectors:    %s\n", formatBytes(info.VectorBytes))
	fmt.Fprintf(out, "  Total:      %s\n", formatBytes(info.MetadataBytes+info.VectorBytes))
}

// languageFractions normalizes raw extension counts into fractions of the total.
func languageFractions(counts map[string]int) map[string]float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	fractions := make(map[string]float64, len(counts))
	if total == 0 {
		return fractions
	}
	for lang, c := range counts {
		fractions[lang] = float64(c) / float64(total)
	}
	return fractions
}

// formatAge renders t as a coarse "N units ago" string, or "unknown" for a zero time.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d / time.Minute)
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case d < 24*time.Hour:
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// formatNumber renders n with thousands separators, e.g. 12345 -> "12,345".
func formatNumber(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var out []byte
	for i, d := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, d)
	}

	if neg {
		return "-" + string(out)
	}
	return string(out)
}

// formatLanguages renders a language->fraction map as a sorted, human-readable
// summary, e.g. "go (50%), ts (30%), md (20%)".
func formatLanguages(langs map[string]float64) string {
	if len(langs) == 0 {
		return "none"
	}

	type entry struct {
		lang string
		frac float64
	}
	entries := make([]entry, 0, len(langs))
	for lang, frac := range langs {
		entries = append(entries, entry{lang, frac})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].frac != entries[j].frac {
			return entries[i].frac > entries[j].frac
		}
		return entries[i].lang < entries[j].lang
	})

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s (%d%%)", e.lang, int(e.frac*100+0.5)))
	}
	return strings.Join(parts, ", ")
}

// normalizeExtension maps file extension aliases onto a canonical language tag.
func normalizeExtension(ext string) string {
	switch strings.ToLower(ext) {
	case "ts", "tsx":
		return "ts"
	case "js", "jsx", "mjs":
		return "js"
	case "yml", "yaml":
		return "yaml"
	case "htm", "html":
		return "html"
	default:
		return strings.ToLower(ext)
	}
}

// formatBytes renders a byte count using binary (KiB/MiB) units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
