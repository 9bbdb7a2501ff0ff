package chunk

import "strings"

// ExtractKeywords tokenizes free text the same way chunk identifiers are
// tokenized (splitIdentifier), so a query's keyword set is directly
// comparable against a chunk's Keywords field.
func ExtractKeywords(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) {
		for _, part := range splitIdentifier(word) {
			if !seen[part] {
				seen[part] = true
				out = append(out, part)
			}
		}
	}
	return out
}

// InferQueryIntentTags applies the same verb-prefix heuristic used for
// chunk symbols to the first meaningful word of a query.
func InferQueryIntentTags(text string) []IntentTag {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	return inferIntentTags(fields[0])
}
