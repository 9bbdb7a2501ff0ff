package chunk

import (
	"fmt"
	"strings"
)

// BuildEmbeddingText renders the canonical multi-line block used as the
// embedding model's input for a chunk. Raw source code never appears here;
// only symbol metadata, inferred intent, and a summary or description.
func BuildEmbeddingText(c *Chunk) string {
	symbol := "(none)"
	if len(c.Symbols) > 0 && c.Symbols[0].Name != "" {
		symbol = c.Symbols[0].Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", c.FilePath)
	fmt.Fprintf(&b, "Symbol: %s\n", symbol)
	fmt.Fprintf(&b, "Type: %s\n", kindOrDefault(c.Kind))
	fmt.Fprintf(&b, "Intent: %s\n", joinIntentTags(c.IntentTags))

	if c.HTTPMethod != "" {
		fmt.Fprintf(&b, "HTTP method: %s\n", c.HTTPMethod)
	}
	if c.Resource != "" {
		fmt.Fprintf(&b, "Resource: %s\n", c.Resource)
	}

	summary := c.Summary
	if summary == "" {
		summary = c.Description
	}
	fmt.Fprintf(&b, "Summary: %s\n", summary)
	fmt.Fprintf(&b, "Keywords: %s", strings.Join(c.Keywords, " "))

	return b.String()
}

func kindOrDefault(k Kind) string {
	if k == "" {
		return string(KindBlock)
	}
	return string(k)
}

func joinIntentTags(tags []IntentTag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, "; ")
}
