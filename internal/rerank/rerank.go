// Package rerank implements the local lexical cross-encoder proxy used to
// re-order the top of a scored candidate list. No cross-encoder model
// runtime is in scope; the local reranker stands in for one with a cheap
// token-overlap heuristic, behind the same interface a real cross-encoder
// would implement.
package rerank

import (
	"context"
	"sort"
	"strings"

	"github.com/justafolk/xtrc/internal/scorer"
)

// DefaultTopK is LOCAL_RERANKER_TOP_K: only the top-ranked candidates (by
// the hybrid score) are re-scored by the reranker.
const DefaultTopK = 10

// Reranker re-orders the top of a scored candidate list.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []scorer.Scored) []scorer.Scored
}

// LocalReranker computes a token-overlap proxy score for each candidate's
// content and blends it with the hybrid score.
type LocalReranker struct {
	TopK int
}

// New returns a LocalReranker with the given top-K, or DefaultTopK if topK <= 0.
func New(topK int) *LocalReranker {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &LocalReranker{TopK: topK}
}

// Rerank re-scores the top TopK candidates by blending a normalized
// cross-encoder-proxy rank with the existing score: final' = 0.6*rank_norm(ce) + 0.4*score.
// Candidates beyond TopK are untouched and keep their original relative order.
func (r *LocalReranker) Rerank(ctx context.Context, query string, candidates []scorer.Scored) []scorer.Scored {
	if len(candidates) == 0 {
		return candidates
	}
	k := r.TopK
	if k > len(candidates) {
		k = len(candidates)
	}

	head := make([]scorer.Scored, k)
	copy(head, candidates[:k])
	tail := candidates[k:]

	queryTokens := tokenize(query)
	type ceEntry struct {
		idx int
		ce  float64
	}
	entries := make([]ceEntry, len(head))
	for i, c := range head {
		entries[i] = ceEntry{idx: i, ce: lexicalOverlap(queryTokens, c.Chunk.Content)}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ce > entries[j].ce })

	// rank_norm(ce): best-ranked candidate gets 1.0, worst gets 0 (or 1.0
	// for a single-element head, to avoid a divide-by-zero).
	rankNorm := make([]float64, len(head))
	denom := float64(len(entries) - 1)
	for pos, e := range entries {
		if denom <= 0 {
			rankNorm[e.idx] = 1.0
			continue
		}
		rankNorm[e.idx] = 1.0 - float64(pos)/denom
	}

	blended := make([]scorer.Scored, len(head))
	for i, c := range head {
		final := 0.6*rankNorm[i] + 0.4*float64(c.Score)
		c.Score = float32(final)
		blended[i] = c
	}
	sort.SliceStable(blended, func(i, j int) bool {
		if blended[i].Score != blended[j].Score {
			return blended[i].Score > blended[j].Score
		}
		if blended[i].VectorScore != blended[j].VectorScore {
			return blended[i].VectorScore > blended[j].VectorScore
		}
		if blended[i].Chunk.FilePath != blended[j].Chunk.FilePath {
			return blended[i].Chunk.FilePath < blended[j].Chunk.FilePath
		}
		return blended[i].Chunk.StartLine < blended[j].Chunk.StartLine
	})

	return append(blended, tail...)
}

func tokenize(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,:;()[]{}'\"")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// lexicalOverlap is a Jaccard-style overlap between query tokens and the
// candidate's content tokens — a cheap proxy for cross-encoder relevance.
func lexicalOverlap(queryTokens map[string]struct{}, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	contentTokens := tokenize(content)
	if len(contentTokens) == 0 {
		return 0
	}
	var hits int
	for t := range queryTokens {
		if _, ok := contentTokens[t]; ok {
			hits++
		}
	}
	union := len(queryTokens) + len(contentTokens) - hits
	if union == 0 {
		return 0
	}
	return float64(hits) / float64(union)
}
