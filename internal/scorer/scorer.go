// Package scorer implements the hybrid candidate scorer: five normalized
// sub-scores combined with fixed weights, then a set of heuristic
// multipliers clamped back into [0,1].
package scorer

import (
	"sort"
	"strings"

	"github.com/justafolk/xtrc/internal/store"
)

// Fixed combination weights. These are not configurable: the formula's
// shape is part of the retrieval contract, not a tuning knob.
const (
	WeightVector     = 0.50
	WeightKeyword    = 0.18
	WeightSymbol     = 0.12
	WeightIntent     = 0.12
	WeightStructural = 0.08
)

// Heuristic multipliers, applied after the weighted sum and before the
// final clamp to [0,1].
const (
	HeuristicRouteBoost  = 1.3
	HeuristicIntentBoost = 1.2
	HeuristicNoisePenalty = 0.7
)

// Query carries the query-side signals the scorer compares each candidate
// against. Keywords uses the same camelCase/snake_case tokenization as the
// chunk enricher (chunk.splitIdentifier), so kw(query) and kw(chunk) are
// comparable sets.
type Query struct {
	Raw        string
	Keywords   []string
	IntentTags []string
	HTTPMethod string // non-empty if the query names an HTTP verb
	Resource   string // non-empty if the query looks like a route path
	// RouteShaped is true when Raw reads like a route ("GET /users/:id",
	// "/api/orders"), used by the structural_score and route heuristic.
	RouteShaped bool
}

// Candidate is a scoring input: a chunk plus its raw vector similarity.
type Candidate struct {
	Chunk       *store.Chunk
	VectorScore float32 // clamped cosine similarity in [0,1]
}

// Scored is a candidate annotated with its sub-scores and final score.
type Scored struct {
	Chunk       *store.Chunk
	VectorScore     float32
	KeywordScore    float32
	SymbolScore     float32
	IntentScore     float32
	StructuralScore float32
	Score           float32 // final, post-heuristic, clamped to [0,1]
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score computes the five sub-scores for a candidate against a query,
// combines them with the fixed weights, applies the heuristic multipliers,
// and clamps the result to [0,1].
func Score(c Candidate, q Query) Scored {
	vec := clamp01(c.VectorScore)
	kw := keywordScore(q.Keywords, c.Chunk.Keywords)
	sym := symbolScore(q.Raw, c.Chunk)
	intent := intentScore(q, c.Chunk)
	structural := structuralScore(q, c.Chunk)

	combined := WeightVector*vec + WeightKeyword*kw + WeightSymbol*sym +
		WeightIntent*intent + WeightStructural*structural

	combined = applyHeuristics(combined, q, c.Chunk)

	return Scored{
		Chunk:           c.Chunk,
		VectorScore:     vec,
		KeywordScore:    kw,
		SymbolScore:     sym,
		IntentScore:     intent,
		StructuralScore: structural,
		Score:           clamp01(combined),
	}
}

// keywordScore is |kw(query) ∩ kw(chunk)| / max(1, |kw(query)|).
func keywordScore(queryKW, chunkKW []string) float32 {
	if len(queryKW) == 0 {
		return 0
	}
	chunkSet := make(map[string]struct{}, len(chunkKW))
	for _, k := range chunkKW {
		chunkSet[strings.ToLower(k)] = struct{}{}
	}
	var hits int
	for _, k := range queryKW {
		if _, ok := chunkSet[strings.ToLower(k)]; ok {
			hits++
		}
	}
	denom := len(queryKW)
	if denom < 1 {
		denom = 1
	}
	return float32(hits) / float32(denom)
}

// symbolScore is 1.0 for an exact symbol-name match, 0.5 for a substring
// match of at least 3 characters, 0.0 otherwise.
func symbolScore(rawQuery string, c *store.Chunk) float32 {
	q := strings.ToLower(strings.TrimSpace(rawQuery))
	if q == "" || len(c.Symbols) == 0 {
		return 0
	}
	best := float32(0)
	for _, sym := range c.Symbols {
		name := strings.ToLower(sym.Name)
		if name == "" {
			continue
		}
		if name == q {
			return 1.0
		}
		if len(q) >= 3 && (strings.Contains(name, q) || strings.Contains(q, name)) {
			if best < 0.5 {
				best = 0.5
			}
		}
	}
	return best
}

// intentScore is 1.0 on an exact intent-tag match, 0.5 when only the HTTP
// method matches (route chunks), 0.0 otherwise.
func intentScore(q Query, c *store.Chunk) float32 {
	if len(q.IntentTags) == 0 {
		return 0
	}
	chunkTags := make(map[string]struct{}, len(c.IntentTags))
	for _, t := range c.IntentTags {
		chunkTags[t] = struct{}{}
	}
	for _, t := range q.IntentTags {
		if _, ok := chunkTags[t]; ok {
			return 1.0
		}
	}
	if q.HTTPMethod != "" && c.HTTPMethod != "" &&
		strings.EqualFold(q.HTTPMethod, c.HTTPMethod) {
		return 0.5
	}
	return 0
}

// structuralScore rewards a kind/query shape match: a route chunk against a
// route-shaped query scores highest, then function/method, then class, then
// a generic block.
func structuralScore(q Query, c *store.Chunk) float32 {
	switch c.Kind {
	case "route":
		if q.RouteShaped {
			return 1.0
		}
		return 0.75
	case "function", "method":
		return 0.75
	case "class":
		return 0.5
	default:
		return 0.25
	}
}

// applyHeuristics multiplies the combined score by route/intent boosts and
// a noise penalty. Applied before the final [0,1] clamp, so a boosted score
// can legitimately exceed 1 until it is clamped.
func applyHeuristics(combined float32, q Query, c *store.Chunk) float32 {
	if q.RouteShaped && c.Kind == "route" {
		combined *= HeuristicRouteBoost
	}
	if len(q.IntentTags) > 0 && intentScore(q, c) >= 1.0 {
		combined *= HeuristicIntentBoost
	}
	if c.Kind == "block" && len(c.Symbols) == 0 {
		combined *= HeuristicNoisePenalty
	}
	return combined
}

// ScoreAll scores every candidate and returns them sorted by the spec's
// tie-break rule: score desc, then vector_score desc, then path asc, then
// start_line asc.
func ScoreAll(candidates []Candidate, q Query) []Scored {
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Score(c, q)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].VectorScore != out[j].VectorScore {
			return out[i].VectorScore > out[j].VectorScore
		}
		if out[i].Chunk.FilePath != out[j].Chunk.FilePath {
			return out[i].Chunk.FilePath < out[j].Chunk.FilePath
		}
		return out[i].Chunk.StartLine < out[j].Chunk.StartLine
	})
	return out
}
