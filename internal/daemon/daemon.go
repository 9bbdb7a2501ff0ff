package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/justafolk/xtrc/internal/chunk"
	"github.com/justafolk/xtrc/internal/config"
	"github.com/justafolk/xtrc/internal/embed"
	"github.com/justafolk/xtrc/internal/index"
	"github.com/justafolk/xtrc/internal/llm"
	"github.com/justafolk/xtrc/internal/search"
	"github.com/justafolk/xtrc/internal/store"
	"github.com/justafolk/xtrc/internal/telemetry"
	"github.com/justafolk/xtrc/internal/ui"
)

// Daemon owns the per-repo lock table and the HTTP server that implements
// POST /index, POST /query, GET /status and GET /metrics. Repos are loaded
// into memory on first touch and evicted LRU-style at MaxProjects.
type Daemon struct {
	cfg      Config
	appCfg   *config.Config
	embedder embed.Embedder // shared embedder override; nil means each repo opens its own

	mu       sync.RWMutex
	projects map[string]*projectState

	metrics *telemetry.DaemonMetrics

	started    time.Time
	httpSrv    *http.Server
	metricsSrv *http.Server
}

// projectState is the loaded handle for one repo's index: its vector
// store, metadata store and query engine, guarded by a per-repo read/write
// lock (see package doc) so a running /index excludes concurrent /index or
// /query calls against the same repo without blocking other repos.
type projectState struct {
	rootPath string
	lock     sync.RWMutex
	flock    *flock.Flock // cross-process advisory lock on rootPath/.xtrc/lock

	vector   store.VectorStore
	metadata store.MetadataStore
	embedder embed.Embedder
	engine   *search.Engine

	loadedAt      time.Time
	lastUsed      time.Time
	lastIndexedAt time.Time
}

// Close releases the project's store handles. Safe to call with nil
// stores (a project that was registered but never successfully opened).
func (p *projectState) Close() error {
	var err error
	if p.vector != nil {
		if e := p.vector.Close(); e != nil {
			err = e
		}
	}
	if p.metadata != nil {
		if e := p.metadata.Close(); e != nil {
			err = e
		}
	}
	if p.flock != nil {
		_ = p.flock.Unlock()
	}
	return err
}

// DaemonOption configures optional Daemon collaborators, mainly for tests.
type DaemonOption func(*Daemon)

// WithEmbedder overrides the embedder every repo uses, instead of each
// repo initializing its own from config on first index/query.
func WithEmbedder(e embed.Embedder) DaemonOption {
	return func(d *Daemon) { d.embedder = e }
}

// WithAppConfig overrides the fallback application config used when a repo
// has no .xtrc.yaml of its own.
func WithAppConfig(c *config.Config) DaemonOption {
	return func(d *Daemon) { d.appCfg = c }
}

// NewDaemon validates cfg and constructs a Daemon. It does not bind any
// sockets or touch the filesystem beyond what cfg.Validate checks; call
// Start to actually serve.
func NewDaemon(cfg Config, opts ...DaemonOption) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		appCfg:   config.NewConfig(),
		projects: make(map[string]*projectState),
		metrics:  telemetry.NewDaemonMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start binds the HTTP and metrics listeners, writes the PID file, and
// serves until ctx is cancelled or a listener fails. On return (for any
// reason) it closes every loaded repo and removes the PID file.
func (d *Daemon) Start(ctx context.Context) error {
	d.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /index", d.serveIndex)
	mux.HandleFunc("POST /query", d.serveQuery)
	mux.HandleFunc("GET /status", d.serveStatus)

	d.httpSrv = &http.Server{Addr: d.cfg.Addr(), Handler: mux}
	ln, err := net.Listen("tcp", d.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.httpSrv.Addr, err)
	}

	var metricsLn net.Listener
	if d.cfg.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", d.metricsHandler())
		d.metricsSrv = &http.Server{Addr: fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.MetricsPort), Handler: metricsMux}
		metricsLn, err = net.Listen("tcp", d.metricsSrv.Addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen metrics %s: %w", d.metricsSrv.Addr, err)
		}
	}

	if d.cfg.PIDPath != "" {
		if err := d.cfg.EnsureDir(); err != nil {
			_ = ln.Close()
			return fmt.Errorf("ensure pid dir: %w", err)
		}
		if err := NewPIDFile(d.cfg.PIDPath).Write(); err != nil {
			_ = ln.Close()
			return fmt.Errorf("write pidfile: %w", err)
		}
	}
	defer d.cleanup()

	errCh := make(chan error, 2)
	go func() { errCh <- d.httpSrv.Serve(ln) }()
	if metricsLn != nil {
		go func() { errCh <- d.metricsSrv.Serve(metricsLn) }()
	}

	slog.Info("daemon started", slog.String("addr", d.httpSrv.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownGracePeriod)
		defer cancel()
		_ = d.httpSrv.Shutdown(shutdownCtx)
		if d.metricsSrv != nil {
			_ = d.metricsSrv.Shutdown(shutdownCtx)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (d *Daemon) cleanup() {
	d.mu.Lock()
	for _, p := range d.projects {
		_ = p.Close()
	}
	d.projects = make(map[string]*projectState)
	d.mu.Unlock()
	d.embedder = nil
	if d.cfg.PIDPath != "" {
		_ = NewPIDFile(d.cfg.PIDPath).Remove()
	}
}

// Close releases every loaded repo without touching the PID file or any
// listener. For callers (like the validation package) that drive HandleIndex
// / HandleQuery / HandleStatus directly instead of running Start.
func (d *Daemon) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	for _, p := range d.projects {
		if cerr := p.Close(); cerr != nil {
			err = cerr
		}
	}
	d.projects = make(map[string]*projectState)
	return err
}

// evictLRU drops the least-recently-used repo once the cache is at or over
// capacity, making room for the repo about to be loaded.
func (d *Daemon) evictLRU() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.MaxProjects <= 0 || len(d.projects) < d.cfg.MaxProjects {
		return
	}

	var oldestPath string
	var oldest time.Time
	first := true
	for path, p := range d.projects {
		if first || p.lastUsed.Before(oldest) {
			oldestPath, oldest, first = path, p.lastUsed, false
		}
	}
	if oldestPath == "" {
		return
	}
	if p := d.projects[oldestPath]; p != nil {
		_ = p.Close()
	}
	delete(d.projects, oldestPath)
}

// projectFor returns the cached project state for rootPath, creating (but
// not opening) one if absent.
func (d *Daemon) projectFor(rootPath string) *projectState {
	d.mu.Lock()
	if p, ok := d.projects[rootPath]; ok {
		p.lastUsed = time.Now()
		d.mu.Unlock()
		return p
	}
	d.mu.Unlock()

	d.evictLRU()

	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.projects[rootPath]; ok {
		p.lastUsed = time.Now()
		return p
	}
	p := &projectState{rootPath: rootPath, loadedAt: time.Now(), lastUsed: time.Now()}
	d.projects[rootPath] = p
	d.metrics.SetReposLoaded(len(d.projects))
	return p
}

// canonicalizeRepoPath resolves raw to an absolute, symlink-free directory
// path, or INVALID_REPO if it isn't a usable directory.
func canonicalizeRepoPath(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", &DaemonError{Code: CodeInvalidRepo, Message: "repo_path is required"}
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", &DaemonError{Code: CodeInvalidRepo, Message: "cannot resolve repo_path", Details: err.Error()}
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", &DaemonError{Code: CodeInvalidRepo, Message: "repo_path is not a directory"}
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// HandleIndex implements the indexer orchestrator: canonicalize, acquire
// the repo's write lock (in-process and cross-process), rebuild or
// incrementally update the index, and report counts.
func (d *Daemon) HandleIndex(ctx context.Context, req IndexRequest) (*IndexResponse, error) {
	start := time.Now()
	rootPath, err := canonicalizeRepoPath(req.RepoPath)
	if err != nil {
		return nil, err
	}

	p := d.projectFor(rootPath)

	if !p.lock.TryLock() {
		d.metrics.ObserveIndex(time.Since(start), "busy")
		return nil, &DaemonError{Code: CodeBusy, Message: "an index is already running for this repo"}
	}
	defer p.lock.Unlock()

	dataDir := filepath.Join(rootPath, ".xtrc")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		d.metrics.ObserveIndex(time.Since(start), "error")
		return nil, &DaemonError{Code: CodeInternal, Message: "cannot create data directory", Details: err.Error()}
	}

	fl := flock.New(filepath.Join(dataDir, "lock"))
	locked, err := fl.TryLock()
	if err != nil || !locked {
		d.metrics.ObserveIndex(time.Since(start), "busy")
		return nil, &DaemonError{Code: CodeBusy, Message: "repo is locked by another process"}
	}
	defer fl.Unlock()

	result, err := d.runIndex(ctx, p, rootPath, req.Rebuild)
	if err != nil {
		d.metrics.ObserveIndex(time.Since(start), "error")
		return nil, &DaemonError{Code: CodeInternal, Message: "indexing failed", Details: err.Error()}
	}

	p.lastIndexedAt = time.Now()
	d.metrics.ObserveIndex(time.Since(start), "ok")

	return &IndexResponse{
		Status:        "ok",
		RepoPath:      rootPath,
		FilesScanned:  result.Files,
		FilesIndexed:  result.Files,
		ChunksIndexed: result.Chunks,
		DurationMS:    time.Since(start).Milliseconds(),
	}, nil
}

// runIndex opens (or, on rebuild, recreates) the repo's stores, drives the
// indexer, persists the vector store, and swaps the new engine into p.
func (d *Daemon) runIndex(ctx context.Context, p *projectState, rootPath string, rebuild bool) (*index.RunnerResult, error) {
	dataDir := filepath.Join(rootPath, ".xtrc")

	cfg, err := config.Load(rootPath)
	if err != nil || cfg == nil {
		cfg = d.appCfg
	}

	if rebuild {
		_ = p.Close()
		_ = os.Remove(filepath.Join(dataDir, "metadata.db"))
		_ = os.Remove(filepath.Join(dataDir, "vectors.hnsw"))
		p.vector, p.metadata, p.engine = nil, nil, nil
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	embedder := d.embedder
	if embedder == nil {
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		embedder, err = embed.NewEmbedder(embedCtx, provider, cfg.Embeddings.Model)
		cancel()
		if err != nil {
			_ = metadata.Close()
			return nil, fmt.Errorf("init embedder: %w", err)
		}
	}

	vectorCfg := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorCfg)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if !rebuild {
		if _, statErr := os.Stat(vectorPath); statErr == nil {
			if loadErr := vector.Load(vectorPath); loadErr != nil {
				slog.Warn("vector load failed, reindexing from scratch",
					slog.String("repo", rootPath), slog.String("error", loadErr.Error()))
			}
		}
	}

	renderer := ui.NewPlainRenderer(ui.NewConfig(io.Discard))
	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer: renderer,
		Config:   cfg,
		Metadata: metadata,
		Vector:   vector,
		Embedder: embedder,
	})
	if err != nil {
		_ = metadata.Close()
		_ = vector.Close()
		return nil, fmt.Errorf("create index runner: %w", err)
	}

	result, runErr := runner.Run(ctx, index.RunnerConfig{
		RootDir: rootPath,
		DataDir: dataDir,
	})
	if runErr != nil {
		_ = metadata.Close()
		_ = vector.Close()
		return nil, runErr
	}

	if saveErr := vector.Save(vectorPath); saveErr != nil {
		slog.Warn("vector save failed", slog.String("repo", rootPath), slog.String("error", saveErr.Error()))
	}

	p.vector = vector
	p.metadata = metadata
	p.embedder = embedder
	p.engine = newEngine(cfg, vector, embedder, metadata)

	return result, nil
}

// newEngine builds a search.Engine wired to cfg's scorer/reranker/LLM
// tuning.
func newEngine(cfg *config.Config, vector store.VectorStore, embedder embed.Embedder, metadata store.MetadataStore) *search.Engine {
	engineCfg := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineCfg.DefaultLimit = cfg.Search.MaxResults
	}
	if cfg.Search.LocalRerankerTopK > 0 {
		engineCfg.RerankerTopK = cfg.Search.LocalRerankerTopK
	}

	var opts []search.EngineOption
	if !cfg.Search.LocalRerankerEnabled {
		opts = append(opts, search.WithReranker(nil))
	}
	if cfg.LLM.UseLLM {
		opts = append(opts, search.WithLLM(llm.New(llmConfigFrom(cfg.LLM))))
	}

	return search.New(vector, embedder, metadata, engineCfg, opts...)
}

func llmConfigFrom(c config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:        c.Provider,
		GeminiModel:     c.Model,
		GeminiAPIKey:    c.APIKey,
		GeminiProjectID: c.GeminiProjectID,
		GeminiLocation:  c.GeminiLocation,
		OpenAIModel:     c.Model,
		OpenAIAPIKey:    c.APIKey,
		CallTimeout:     time.Duration(c.TimeoutMS) * time.Millisecond,
		GeminiThreshold: c.Threshold,
	}
}

// HandleQuery implements the query orchestrator: canonicalize, acquire the
// repo's read lock (opening the index from disk on first touch), run the
// search pipeline, and assemble the response.
func (d *Daemon) HandleQuery(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	rootPath, err := canonicalizeRepoPath(req.RepoPath)
	if err != nil {
		return nil, err
	}

	dataDir := filepath.Join(rootPath, ".xtrc")
	p := d.projectFor(rootPath)

	p.lock.Lock()
	if p.engine == nil {
		if _, statErr := os.Stat(filepath.Join(dataDir, "metadata.db")); statErr != nil {
			p.lock.Unlock()
			d.metrics.ObserveQuery(time.Since(start), "not_indexed")
			return nil, &DaemonError{Code: CodeNotIndexed, Message: "repo has not been indexed"}
		}
		if err := d.openForQuery(ctx, p, rootPath); err != nil {
			p.lock.Unlock()
			d.metrics.ObserveQuery(time.Since(start), "error")
			return nil, &DaemonError{Code: CodeInternal, Message: "failed to open index", Details: err.Error()}
		}
	}
	p.lock.Unlock()

	p.lock.RLock()
	defer p.lock.RUnlock()
	p.lastUsed = time.Now()

	topK := req.TopK
	if topK <= 0 && d.appCfg != nil {
		topK = d.appCfg.Search.MaxResults
	}

	resp, err := p.engine.SearchFull(ctx, req.Query, search.SearchOptions{Limit: topK})
	if err != nil {
		d.metrics.ObserveQuery(time.Since(start), "error")
		return nil, &DaemonError{Code: CodeInternal, Message: "search failed", Details: err.Error()}
	}
	d.metrics.ObserveQuery(time.Since(start), "ok")
	if resp.UsedLLM {
		d.metrics.ObserveLLM("used")
	}

	out := &QueryResponse{
		Status:          "ok",
		RepoPath:        rootPath,
		Query:           req.Query,
		DurationMS:      time.Since(start).Milliseconds(),
		SelectionSource: resp.SelectionSource,
		UsedLLM:         resp.UsedLLM,
		RewrittenQuery:  resp.RewrittenQuery,
	}
	queryKeywords := chunk.ExtractKeywords(req.Query)
	var queryIntents []string
	for _, t := range chunk.InferQueryIntentTags(req.Query) {
		queryIntents = append(queryIntents, string(t))
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, toQueryResult(r, queryKeywords, queryIntents))
	}
	return out, nil
}

// openForQuery loads an existing on-disk index (never creates one) into p.
func (d *Daemon) openForQuery(ctx context.Context, p *projectState, rootPath string) error {
	dataDir := filepath.Join(rootPath, ".xtrc")

	cfg, err := config.Load(rootPath)
	if err != nil || cfg == nil {
		cfg = d.appCfg
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}

	embedder := d.embedder
	if embedder == nil {
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		embedder, err = embed.NewEmbedder(embedCtx, provider, cfg.Embeddings.Model)
		cancel()
		if err != nil {
			_ = metadata.Close()
			return fmt.Errorf("init embedder: %w", err)
		}
	}

	vectorCfg := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorCfg)
	if err != nil {
		_ = metadata.Close()
		return fmt.Errorf("open vector store: %w", err)
	}
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if loadErr := vector.Load(vectorPath); loadErr != nil {
		_ = metadata.Close()
		_ = vector.Close()
		return fmt.Errorf("load vector store: %w", loadErr)
	}

	p.vector = vector
	p.metadata = metadata
	p.embedder = embedder
	p.engine = newEngine(cfg, vector, embedder, metadata)
	return nil
}

// toQueryResult converts an engine result into the wire shape, deriving
// matched keywords/intents and a deterministic explanation string from the
// scorer's sub-scores.
func toQueryResult(r *search.SearchResult, queryKeywords, queryIntents []string) QueryResult {
	var matchedKW []string
	haystack := strings.ToLower(r.Content + " " + r.Description)
	for _, k := range queryKeywords {
		if strings.Contains(haystack, strings.ToLower(k)) {
			matchedKW = append(matchedKW, k)
		}
	}

	var matchedIntents []string
	if r.IntentScore >= 1.0 {
		matchedIntents = queryIntents
	}

	explanation := fmt.Sprintf(
		"score=%.3f = vector(%.3f)*0.50 + keyword(%.3f)*0.18 + symbol(%.3f)*0.12 + intent(%.3f)*0.12 + structural(%.3f)*0.08, kind=%s",
		r.Score, r.VectorScore, r.KeywordScore, r.SymbolScore, r.IntentScore, r.StructuralScore, r.Kind)

	return QueryResult{
		FilePath:        r.FilePath,
		StartLine:       r.StartLine,
		EndLine:         r.EndLine,
		Symbol:          r.Symbol,
		Description:     r.Description,
		Score:           r.Score,
		VectorScore:     r.VectorScore,
		KeywordScore:    r.KeywordScore,
		SymbolScore:     r.SymbolScore,
		IntentScore:     r.IntentScore,
		StructuralScore: r.StructuralScore,
		MatchedIntents:  matchedIntents,
		MatchedKeywords: matchedKW,
		Explanation:     explanation,
	}
}

// HandleStatus implements the try-lock status check: a repo mid-index
// never blocks a status request, it just reports unhealthy.
func (d *Daemon) HandleStatus(repoPath string) (*StatusResponse, error) {
	rootPath, err := canonicalizeRepoPath(repoPath)
	if err != nil {
		return nil, err
	}

	dataDir := filepath.Join(rootPath, ".xtrc")
	if _, statErr := os.Stat(filepath.Join(dataDir, "metadata.db")); statErr != nil {
		return &StatusResponse{Status: "ok", RepoPath: rootPath, Healthy: false, Reason: "not_indexed"}, nil
	}

	d.mu.RLock()
	p, ok := d.projects[rootPath]
	d.mu.RUnlock()

	if !ok {
		// On disk but not currently loaded: healthy and idle.
		return &StatusResponse{Status: "ok", RepoPath: rootPath, Healthy: true}, nil
	}

	if !p.lock.TryRLock() {
		return &StatusResponse{Status: "ok", RepoPath: rootPath, Healthy: false, Reason: "indexing"}, nil
	}
	defer p.lock.RUnlock()

	var model string
	if p.embedder != nil {
		model = p.embedder.ModelName()
	}
	var indexedChunks int
	if p.vector != nil {
		indexedChunks = p.vector.Count()
	}

	indexedFiles := 0
	if p.metadata != nil {
		if proj, err := p.metadata.GetProject(context.Background(), index.ProjectID(rootPath)); err == nil && proj != nil {
			indexedFiles = proj.FileCount
		}
	}

	return &StatusResponse{
		Status:        "ok",
		RepoPath:      rootPath,
		IndexedFiles:  indexedFiles,
		IndexedChunks: indexedChunks,
		Model:         model,
		Healthy:       true,
		LastIndexedAt: p.lastIndexedAt,
	}, nil
}
