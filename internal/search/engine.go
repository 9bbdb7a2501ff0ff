// Package search implements the indexer and query orchestrators: Index
// embeds chunks into the vector store and metadata store; Search runs the
// embed -> ANN -> hybrid-score -> rerank -> LLM-gate -> assemble pipeline.
package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/justafolk/xtrc/internal/chunk"
	"github.com/justafolk/xtrc/internal/embed"
	"github.com/justafolk/xtrc/internal/llm"
	"github.com/justafolk/xtrc/internal/rerank"
	"github.com/justafolk/xtrc/internal/scorer"
	"github.com/justafolk/xtrc/internal/store"
)

// EngineConfig tunes the query orchestrator's candidate pool and timeouts.
type EngineConfig struct {
	// DefaultLimit is top_k when the caller doesn't specify one.
	DefaultLimit int
	// MaxLimit caps top_k regardless of what the caller asks for.
	MaxLimit int
	// CandidateMultiplier sizes the ANN candidate pool: k = max(top_k *
	// CandidateMultiplier, CandidateFloor).
	CandidateMultiplier int
	CandidateFloor      int
	// RerankerTopK is LOCAL_RERANKER_TOP_K.
	RerankerTopK int
	// SearchTimeout bounds the whole Search call.
	SearchTimeout time.Duration
}

// DefaultConfig returns the spec's default tuning.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:        10,
		MaxLimit:            100,
		CandidateMultiplier: 4,
		CandidateFloor:      25,
		RerankerTopK:        rerank.DefaultTopK,
		SearchTimeout:       10 * time.Second,
	}
}

// Engine is the indexer (Index/Delete) and query (Search) orchestrator for
// a single repo's index.
type Engine struct {
	vector   store.VectorStore
	embedder embed.Embedder
	metadata store.MetadataStore
	cfg      EngineConfig
	reranker rerank.Reranker
	llm      llm.Collaborator
}

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithReranker overrides the default local reranker.
func WithReranker(r rerank.Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

// WithLLM attaches an LLM collaborator. Without this option the engine runs
// with a disabled collaborator (rewrite/summarize/rerank_and_select all
// degrade immediately).
func WithLLM(c llm.Collaborator) EngineOption {
	return func(e *Engine) { e.llm = c }
}

// New builds an Engine. Index and Search both operate against vector and
// metadata; there is no keyword/BM25 index to build or query.
func New(vector store.VectorStore, embedder embed.Embedder, metadata store.MetadataStore, cfg EngineConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		vector:   vector,
		embedder: embedder,
		metadata: metadata,
		cfg:      cfg,
		reranker: rerank.New(cfg.RerankerTopK),
		llm:      llm.New(llm.Config{Provider: llm.ProviderDisabled}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Index embeds each chunk's content and upserts it into the vector store
// and the metadata store.
func (e *Engine) Index(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedder returned %d embeddings for %d chunks", len(embeddings), len(chunks))
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}

	if err := e.vector.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("add to vector store: %w", err)
	}

	if err := e.metadata.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunk metadata: %w", err)
	}
	if err := e.metadata.SaveChunkEmbeddings(ctx, ids, embeddings, e.embedder.ModelName()); err != nil {
		return fmt.Errorf("save chunk embeddings: %w", err)
	}

	return nil
}

// Delete removes chunks from the vector store and metadata store.
func (e *Engine) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if err := e.vector.Delete(ctx, chunkIDs); err != nil {
		return fmt.Errorf("delete from vector store: %w", err)
	}
	if err := e.metadata.DeleteChunks(ctx, chunkIDs); err != nil {
		return fmt.Errorf("delete chunk metadata: %w", err)
	}
	return nil
}

// EngineStats summarizes the current index.
type EngineStats struct {
	VectorCount int
}

// Stats returns point-in-time counts for the index.
func (e *Engine) Stats() *EngineStats {
	return &EngineStats{VectorCount: e.vector.Count()}
}

// Close releases engine resources.
func (e *Engine) Close() error {
	return e.vector.Close()
}

// SearchOptions parameterizes a single Search call.
type SearchOptions struct {
	// Limit is top_k. Zero uses EngineConfig.DefaultLimit.
	Limit int
}

// SearchResult is a single ranked chunk returned from Search.
type SearchResult struct {
	ChunkID         string
	FilePath        string
	StartLine       int
	EndLine         int
	Content         string
	Description     string
	Summary         string
	Kind            string
	Symbol          string // name of the chunk's primary symbol, if any
	Score           float32
	VectorScore     float32
	KeywordScore    float32
	SymbolScore     float32
	IntentScore     float32
	StructuralScore float32
}

// SearchResponse is the full result of a Search call, including the
// collaborator metadata the daemon's /query response surfaces.
type SearchResponse struct {
	Results         []*SearchResult
	RewrittenQuery  string
	UsedLLM         bool
	SelectionSource string // "scorer" or "llm"
}

var routeShapedPattern = regexp.MustCompile(`(?i)^(get|post|put|patch|delete)\s+/|^/[a-z0-9_\-{}:]+`)
var httpMethodPattern = regexp.MustCompile(`(?i)\b(get|post|put|patch|delete)\b`)

// buildQuery derives the scorer/llm query features from raw text: keyword
// tokenization mirrors the chunk enricher's tokenization (chunk.ExtractKeywords),
// so kw(query) and kw(chunk) are comparable sets.
func buildQuery(raw string) scorer.Query {
	q := scorer.Query{
		Raw:        raw,
		Keywords:   chunk.ExtractKeywords(raw),
		RouteShaped: routeShapedPattern.MatchString(strings.TrimSpace(raw)),
	}
	for _, t := range chunk.InferQueryIntentTags(raw) {
		q.IntentTags = append(q.IntentTags, string(t))
	}
	if m := httpMethodPattern.FindString(raw); m != "" {
		q.HTTPMethod = strings.ToUpper(m)
	}
	if idx := strings.IndexByte(raw, '/'); idx >= 0 {
		q.Resource = raw[idx:]
	}
	return q
}

// Search runs the full query pipeline: embed the (optionally LLM-rewritten)
// query, pull an oversized ANN candidate pool, hybrid-score every
// candidate, rerank the head, optionally let the LLM gate-select the final
// order, then truncate to top_k.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error) {
	resp, err := e.SearchFull(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// SearchFull is Search plus the collaborator metadata (rewritten query,
// whether the LLM gate fired) that the daemon's JSON response exposes.
func (e *Engine) SearchFull(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()

	topK := opts.Limit
	if topK <= 0 {
		topK = e.cfg.DefaultLimit
	}
	if topK > e.cfg.MaxLimit {
		topK = e.cfg.MaxLimit
	}

	effectiveQuery := query
	resp := &SearchResponse{SelectionSource: "scorer"}
	if rewritten, ok := e.llm.Rewrite(ctx, query); ok && rewritten != "" {
		effectiveQuery = rewritten
		resp.RewrittenQuery = rewritten
	}

	// Keyword/intent extraction always runs against the original query, not
	// the rewrite: the rewrite is for embedding, not for literal matching.
	qFeatures := buildQuery(query)

	vec, err := e.embedder.Embed(ctx, effectiveQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidatePool := topK * e.cfg.CandidateMultiplier
	if candidatePool < e.cfg.CandidateFloor {
		candidatePool = e.cfg.CandidateFloor
	}

	vecResults, err := e.vector.Search(ctx, vec, candidatePool)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(vecResults) == 0 {
		return resp, nil
	}

	ids := make([]string, len(vecResults))
	simByID := make(map[string]float32, len(vecResults))
	for i, r := range vecResults {
		ids[i] = r.ID
		simByID[r.ID] = r.Score
	}

	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunk metadata: %w", err)
	}

	candidates := make([]scorer.Candidate, 0, len(chunks))
	for _, c := range chunks {
		candidates = append(candidates, scorer.Candidate{Chunk: c, VectorScore: simByID[c.ID]})
	}

	scored := scorer.ScoreAll(candidates, qFeatures)

	// Truncate to top_k*2 before reranking, per the query pipeline's
	// intermediate-truncation step.
	preRerankLimit := topK * 2
	if preRerankLimit > len(scored) {
		preRerankLimit = len(scored)
	}
	scored = scored[:preRerankLimit]

	if e.reranker != nil {
		scored = e.reranker.Rerank(ctx, query, scored)
	}

	if selection, ok := e.llm.RerankAndSelect(ctx, query, scored); ok {
		scored = selection.Results
		resp.UsedLLM = selection.UsedLLM
		resp.SelectionSource = selection.SelectionSource
	}

	if topK < len(scored) {
		scored = scored[:topK]
	}

	resp.Results = make([]*SearchResult, len(scored))
	for i, s := range scored {
		var symbol string
		if len(s.Chunk.Symbols) > 0 && s.Chunk.Symbols[0] != nil {
			symbol = s.Chunk.Symbols[0].Name
		}
		resp.Results[i] = &SearchResult{
			ChunkID:         s.Chunk.ID,
			FilePath:        s.Chunk.FilePath,
			StartLine:       s.Chunk.StartLine,
			EndLine:         s.Chunk.EndLine,
			Content:         s.Chunk.Content,
			Description:     s.Chunk.Description,
			Summary:         s.Chunk.Summary,
			Kind:            s.Chunk.Kind,
			Symbol:          symbol,
			Score:           s.Score,
			VectorScore:     s.VectorScore,
			KeywordScore:    s.KeywordScore,
			SymbolScore:     s.SymbolScore,
			IntentScore:     s.IntentScore,
			StructuralScore: s.StructuralScore,
		}
	}

	return resp, nil
}
