// Package validation provides test infrastructure for dogfooding validation.
// It runs Tier 1, Tier 2, and Negative queries against a real index through
// the daemon's in-process query path, avoiding a second running daemon.
//
// Validation queries are data-driven, loaded from testdata/queries.yaml.
package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/justafolk/xtrc/internal/daemon"
	"gopkg.in/yaml.v3"
)

// QuerySpec defines a test query with expected results.
type QuerySpec struct {
	ID       string   `yaml:"id"`       // e.g., "T1-Q7"
	Name     string   `yaml:"name"`     // Human-readable name
	Query    string   `yaml:"query"`    // The search query
	Tool     string   `yaml:"tool"`     // retained for queries.yaml compatibility; unused
	Expected []string `yaml:"expected"` // File paths or prefixes that should appear in results
	Notes    string   `yaml:"notes"`    // Optional explanation for maintainers
	Tier     int      `yaml:"-"`        // Set programmatically based on section
}

// QueryConfig holds all validation queries loaded from YAML.
type QueryConfig struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

var (
	queriesOnce sync.Once
	queriesData *QueryConfig
	queriesErr  error
)

// LoadQueries loads validation queries from the testdata/queries.yaml file.
// Results are cached after first load (singleton pattern).
func LoadQueries() (*QueryConfig, error) {
	queriesOnce.Do(func() {
		_, filename, _, ok := runtime.Caller(0)
		if !ok {
			queriesErr = fmt.Errorf("failed to get current file path")
			return
		}

		dir := filepath.Dir(filename)
		path := filepath.Join(dir, "testdata", "queries.yaml")

		data, err := os.ReadFile(path)
		if err != nil {
			queriesErr = fmt.Errorf("failed to read queries file %s: %w", path, err)
			return
		}

		var cfg QueryConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			queriesErr = fmt.Errorf("failed to parse queries YAML: %w", err)
			return
		}

		for i := range cfg.Tier1 {
			cfg.Tier1[i].Tier = 1
		}
		for i := range cfg.Tier2 {
			cfg.Tier2[i].Tier = 2
		}
		for i := range cfg.Negative {
			cfg.Negative[i].Tier = 0
		}

		queriesData = &cfg
	})

	return queriesData, queriesErr
}

// ResetQueries clears the cached queries (for testing).
func ResetQueries() {
	queriesOnce = sync.Once{}
	queriesData = nil
	queriesErr = nil
}

// TestResult captures the outcome of a single query test.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ms"`
	TopResults []string      `json:"top_results"` // File paths returned
	MatchedAt  int           `json:"matched_at"`  // Position of first match (-1 if not found)
	Error      string        `json:"error,omitempty"`
}

// ValidationResult captures results of a full validation run.
type ValidationResult struct {
	Timestamp   time.Time    `json:"timestamp"`
	Tier1       []TestResult `json:"tier1"`
	Tier2       []TestResult `json:"tier2"`
	Negative    []TestResult `json:"negative"`
	Tier1Pass   int          `json:"tier1_pass"`
	Tier1Total  int          `json:"tier1_total"`
	Tier2Pass   int          `json:"tier2_pass"`
	Tier2Total  int          `json:"tier2_total"`
	NegPass     int          `json:"negative_pass"`
	NegTotal    int          `json:"negative_total"`
	Embedder    string       `json:"embedder"`
	IndexChunks int          `json:"index_chunks"`
}

// Tier1Queries returns the standard Tier 1 validation queries.
func Tier1Queries() []QuerySpec {
	cfg, err := LoadQueries()
	if err != nil {
		return nil
	}
	return cfg.Tier1
}

// Tier2Queries returns the Tier 2 validation queries.
func Tier2Queries() []QuerySpec {
	cfg, err := LoadQueries()
	if err != nil {
		return nil
	}
	return cfg.Tier2
}

// NegativeQueries returns negative test cases that should not crash.
func NegativeQueries() []QuerySpec {
	cfg, err := LoadQueries()
	if err != nil {
		return nil
	}
	return cfg.Negative
}

// Validator runs validation queries against a real index through the
// daemon's query orchestrator, in-process (no HTTP listener involved).
type Validator struct {
	d           *daemon.Daemon
	projectRoot string
}

// NewValidator creates a validator for the given project root. It requires
// an existing index at <projectRoot>/.xtrc - run 'xtrc index' first.
func NewValidator(ctx context.Context, projectRoot string) (*Validator, error) {
	dataDir := filepath.Join(projectRoot, ".xtrc")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found at %s - run 'xtrc index' first", dataDir)
	}

	cfg := daemon.DefaultConfig()
	cfg.MaxProjects = 1
	d, err := daemon.NewDaemon(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon: %w", err)
	}

	// Prime the project's index by running one throwaway status check;
	// HandleQuery lazily opens stores on first real query.
	if _, err := d.HandleStatus(projectRoot); err != nil {
		return nil, fmt.Errorf("failed to stat project: %w", err)
	}

	return &Validator{d: d, projectRoot: projectRoot}, nil
}

// Close releases resources held by the validator's daemon.
func (v *Validator) Close() error {
	return v.d.Close()
}

// RunQuery executes a single query and returns the result.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	start := time.Now()
	result := TestResult{
		Spec:      spec,
		MatchedAt: -1,
	}

	resp, err := v.d.HandleQuery(ctx, daemon.QueryRequest{RepoPath: v.projectRoot, Query: spec.Query, TopK: 10})
	result.Duration = time.Since(start)

	if err != nil {
		if spec.Tier == 0 {
			result.Passed = true
		} else {
			result.Error = err.Error()
		}
		return result
	}

	for _, r := range resp.Results {
		result.TopResults = append(result.TopResults, r.FilePath)
	}

	if len(spec.Expected) == 0 {
		result.Passed = true
	} else {
		result.Passed, result.MatchedAt = checkExpected(result.TopResults, spec.Expected)
	}

	return result
}

// RunAll executes all validation queries and returns results.
func (v *Validator) RunAll(ctx context.Context) *ValidationResult {
	status, _ := v.d.HandleStatus(v.projectRoot)

	result := &ValidationResult{Timestamp: time.Now()}
	if status != nil {
		result.Embedder = status.Model
		result.IndexChunks = status.IndexedChunks
	}

	for _, spec := range Tier1Queries() {
		tr := v.RunQuery(ctx, spec)
		result.Tier1 = append(result.Tier1, tr)
		result.Tier1Total++
		if tr.Passed {
			result.Tier1Pass++
		}
	}

	for _, spec := range Tier2Queries() {
		tr := v.RunQuery(ctx, spec)
		result.Tier2 = append(result.Tier2, tr)
		result.Tier2Total++
		if tr.Passed {
			result.Tier2Pass++
		}
	}

	for _, spec := range NegativeQueries() {
		tr := v.RunQuery(ctx, spec)
		result.Negative = append(result.Negative, tr)
		result.NegTotal++
		if tr.Passed {
			result.NegPass++
		}
	}

	return result
}

// checkExpected verifies if any expected file appears in results.
func checkExpected(results []string, expected []string) (bool, int) {
	for i, path := range results {
		for _, exp := range expected {
			if strings.HasPrefix(path, exp) || strings.Contains(path, exp) {
				return true, i
			}
		}
	}
	return false, -1
}
