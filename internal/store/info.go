package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FormatBytes renders a byte count as a human-readable size string.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// FormatTime renders a timestamp for display, or "unknown" for the zero value.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}

// containsAny reports whether s contains any of substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel guesses an embedding backend from a model identifier
// when the caller didn't record one explicitly (legacy indexes).
func inferBackendFromModel(model string) string {
	if strings.HasPrefix(model, "static") {
		return "static"
	}
	if filepath.IsAbs(model) {
		return "mlx"
	}
	if containsAny(model, []string{"mlx-community/", "mlx-"}) {
		return "mlx"
	}
	return "ollama"
}

// getDirSize returns the total size in bytes of all regular files under path,
// or 0 if path doesn't exist or can't be walked.
func getDirSize(path string) int64 {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0
	}
	return size
}

// EmbedderInfoInput carries the current embedder's identity for compatibility
// comparison against what's stored in the index.
type EmbedderInfoInput struct {
	Model      string
	Backend    string
	Dimensions int
}

// GetIndexInfo assembles an IndexInfo snapshot from the metadata store plus
// on-disk sizes, for the `index info` CLI command.
func GetIndexInfo(ctx context.Context, metadata MetadataStore, dataDir string, current *EmbedderInfoInput) (*IndexInfo, error) {
	info := &IndexInfo{
		Location: dataDir,
	}

	model, err := metadata.GetState(ctx, StateKeyIndexModel)
	if err != nil {
		return nil, fmt.Errorf("failed to read index model: %w", err)
	}
	info.IndexModel = model
	if model != "" {
		info.IndexBackend = inferBackendFromModel(model)
	}

	dimStr, err := metadata.GetState(ctx, StateKeyIndexDimension)
	if err != nil {
		return nil, fmt.Errorf("failed to read index dimension: %w", err)
	}
	if dimStr != "" {
		fmt.Sscanf(dimStr, "%d", &info.IndexDimensions)
	}

	withEmbedding, _, err := metadata.GetEmbeddingStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding stats: %w", err)
	}
	info.ChunkCount = withEmbedding

	metadataPath := filepath.Join(dataDir, "metadata.db")
	if fi, err := os.Stat(metadataPath); err == nil {
		info.IndexSizeBytes = fi.Size()
	}
	info.VectorSizeBytes = getDirSize(filepath.Join(dataDir, "vectors"))

	if fi, err := os.Stat(metadataPath); err == nil {
		info.UpdatedAt = fi.ModTime()
	}
	if cp, err := metadata.LoadIndexCheckpoint(ctx); err == nil && cp != nil {
		info.CreatedAt = cp.Timestamp
	}

	if current != nil {
		info.CurrentModel = current.Model
		info.CurrentBackend = current.Backend
		info.CurrentDimensions = current.Dimensions
		info.Compatible = info.IndexDimensions == 0 || info.IndexDimensions == current.Dimensions
	}

	return info, nil
}
