package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// CodeChunkerOptions configures the code chunker behavior
type CodeChunkerOptions struct {
	MaxChunkTokens int // Maximum tokens per chunk (default: DefaultMaxChunkTokens)
	OverlapTokens  int // Accepted but not applied: split code chunks do not overlap
}

// CodeChunker implements AST-aware code chunking using tree-sitter
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	options   CodeChunkerOptions
}

// NewCodeChunker creates a new code chunker with default options
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a new code chunker with custom options
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
	}
}

// Close releases chunker resources
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns file extensions this chunker handles
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into semantic chunks
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	// Check if language is supported
	_, supported := c.registry.GetByName(file.Language)
	if !supported {
		// Fall back to line-based chunking
		return c.chunkByLines(file)
	}

	// Parse the file
	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		// Fall back to line-based chunking on parse error
		return c.chunkByLines(file)
	}

	// Extract context (package declaration, imports)
	fileContext := c.extractFileContext(tree, file.Content, file.Language)

	// Enrich context with file path marker for better embedding quality
	fileContext = c.enrichContextWithFilePath(file.Path, file.Language, fileContext)

	// Find symbol nodes (functions, classes, methods, types)
	symbolNodes := c.findSymbolNodes(tree, file.Language)

	if len(symbolNodes) == 0 {
		return nil, nil
	}

	// Create chunks from symbol nodes
	chunks := make([]*Chunk, 0, len(symbolNodes))
	now := time.Now()

	for _, node := range symbolNodes {
		nodeChunks := c.createChunksFromNode(node, tree, file, fileContext, now)
		chunks = append(chunks, nodeChunks...)
	}

	return chunks, nil
}

// symbolNodeInfo holds a symbol node with its extracted symbol info
type symbolNodeInfo struct {
	node   *Node
	symbol *Symbol
}

// findSymbolNodes finds all symbol-defining nodes at any depth, so a class
// and the methods inside it each yield an entry
func (c *CodeChunker) findSymbolNodes(tree *Tree, language string) []*symbolNodeInfo {
	// Return empty slice, not nil, for consistent API behavior
	config, ok := c.registry.GetByName(language)
	if !ok {
		return []*symbolNodeInfo{}
	}

	var symbolNodes []*symbolNodeInfo

	// Build set of symbol-defining node types
	symbolTypes := make(map[string]SymbolType)
	for _, t := range config.FunctionTypes {
		symbolTypes[t] = SymbolTypeFunction
	}
	for _, t := range config.MethodTypes {
		symbolTypes[t] = SymbolTypeMethod
	}
	for _, t := range config.ClassTypes {
		symbolTypes[t] = SymbolTypeClass
	}
	for _, t := range config.InterfaceTypes {
		symbolTypes[t] = SymbolTypeInterface
	}
	for _, t := range config.TypeDefTypes {
		symbolTypes[t] = SymbolTypeType
	}
	for _, t := range config.ConstantTypes {
		symbolTypes[t] = SymbolTypeConstant
	}
	for _, t := range config.VariableTypes {
		symbolTypes[t] = SymbolTypeVariable
	}

	// Walk tree to find symbol nodes
	tree.Root.Walk(func(n *Node) bool {
		// For JS/TS lexical_declaration/variable_declaration, check for arrow functions first
		// Arrow functions should be typed as Function, not Constant
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			sym := c.extractor.extractSpecialSymbol(n, tree.Source, language)
			if sym != nil {
				// It's an arrow function or function expression
				symbolNodes = append(symbolNodes, &symbolNodeInfo{
					node:   n,
					symbol: sym,
				})
				return true // Already handled, don't process as constant
			}
			// Not an arrow function - fall through to check as constant/variable
		}

		// Check if this is a symbol-defining node type
		if symType, isSymbol := symbolTypes[n.Type]; isSymbol {
			sym := c.extractSymbol(n, tree, symType, language)
			if sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{
					node:   n,
					symbol: sym,
				})
			}
		}
		return true
	})

	return symbolNodes
}

// extractSymbol extracts symbol info from a node
func (c *CodeChunker) extractSymbol(n *Node, tree *Tree, symType SymbolType, language string) *Symbol {
	config, _ := c.registry.GetByName(language)
	name := c.extractor.extractName(n, tree.Source, config, language)
	if name == "" {
		return nil
	}

	docComment := c.extractDocComment(n, tree.Source, language)

	return &Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		DocComment: docComment,
	}
}

// extractDocComment extracts doc comment for a node, looking for multi-line comments
func (c *CodeChunker) extractDocComment(n *Node, source []byte, language string) string {
	// Find the start of the current line
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	// Look for comment on preceding lines
	if lineStart <= 1 {
		return ""
	}

	// Collect comment lines working backwards
	var commentLines []string
	pos := lineStart - 1 // Start before the newline

	for pos > 0 {
		// Find start of previous line
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++ // Skip the newline
		}

		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))

		// Check for single-line comments
		switch language {
		case "go", "typescript", "tsx", "javascript", "jsx":
			if strings.HasPrefix(prevLine, "//") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "//")}, commentLines...)
				continue
			}
		case "python":
			if strings.HasPrefix(prevLine, "#") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "#")}, commentLines...)
				continue
			}
		}

		// Stop if we hit a non-comment line (unless empty)
		if prevLine != "" {
			break
		}
	}

	if len(commentLines) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

// createChunksFromNode creates one or more chunks from a symbol node
func (c *CodeChunker) createChunksFromNode(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	node := info.node
	rawContent := string(tree.Source[node.StartByte:node.EndByte])

	// Include doc comment in raw content if it exists
	rawContentWithDoc := rawContent
	if info.symbol.DocComment != "" {
		// Find where the doc comment is in the source
		rawContentWithDoc = c.getRawContentWithDocComment(node, tree.Source, info.symbol.DocComment)
	}

	tokens := estimateTokens(rawContentWithDoc)

	if tokens <= c.options.MaxChunkTokens {
		// Small enough to be a single chunk
		chunk := c.createChunk(file, rawContentWithDoc, fileContext, info.symbol, now)
		return []*Chunk{chunk}
	}

	// Need to split large symbol
	return c.splitLargeSymbol(info, tree, file, fileContext, now)
}

// getRawContentWithDocComment gets raw content including doc comment
func (c *CodeChunker) getRawContentWithDocComment(n *Node, source []byte, docComment string) string {
	// Find start of doc comment (before the node)
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	// Count back through comment lines
	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
	}

	return string(source[lineStart:n.EndByte])
}

// splitLargeSymbol splits a large symbol into multiple chunks, preferring
// child-node boundaries over a blind line split so each resulting chunk
// still maps onto a real method, case clause, or statement group.
func (c *CodeChunker) splitLargeSymbol(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	node := info.node
	content := string(tree.Source[node.StartByte:node.EndByte])

	if childChunks := c.splitByChildBoundaries(info, tree, file, fileContext, now); len(childChunks) > 0 {
		return childChunks
	}

	// No usable child boundaries (e.g. a single giant statement). Split on
	// blank-line/statement gaps instead of an arbitrary line count.
	return c.splitByStatementBoundaries(content, info.symbol, file, fileContext, now, int(node.StartPoint.Row)+1)
}

// splitByChildBoundaries walks the symbol node's direct children and groups
// them into chunks that respect [chunk_min, chunk_max]. This is the primary
// split strategy for classes/structs (method children), interfaces (method
// signatures), and block statements (case/if children).
func (c *CodeChunker) splitByChildBoundaries(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	node := info.node

	// Find the nested block/body node whose children are the candidate
	// split units; for most grammars this is the last block-ish child.
	body := bodyNodeFor(node)
	if body == nil || len(body.Children) < 2 {
		return nil
	}

	type group struct {
		start, end *Node
		tokens     int
	}
	var groups []group
	var cur group

	flush := func() {
		if cur.start != nil {
			groups = append(groups, cur)
		}
		cur = group{}
	}

	for _, child := range body.Children {
		childContent := child.GetContent(tree.Source)
		childTokens := estimateTokens(childContent)
		if cur.start == nil {
			cur.start, cur.end, cur.tokens = child, child, childTokens
			continue
		}
		if cur.tokens+childTokens > c.options.MaxChunkTokens && cur.tokens >= MinChunkTokens {
			flush()
			cur.start, cur.end, cur.tokens = child, child, childTokens
			continue
		}
		cur.end = child
		cur.tokens += childTokens
	}
	flush()

	if len(groups) < 2 {
		return nil
	}

	chunks := make([]*Chunk, 0, len(groups))
	for i, g := range groups {
		chunkContent := string(tree.Source[g.start.StartByte:g.end.EndByte])
		startLine := int(g.start.StartPoint.Row) + 1
		endLine := int(g.end.EndPoint.Row) + 1

		subSymbol := &Symbol{
			Name:       fmt.Sprintf("%s_part%d", info.symbol.Name, i+1),
			Type:       info.symbol.Type,
			StartLine:  startLine,
			EndLine:    endLine,
			DocComment: info.symbol.DocComment,
		}
		symbols := []*Symbol{subSymbol}
		if i == 0 {
			parent := *info.symbol
			symbols = append(symbols, &parent)
		}

		chunk := c.createChunk(file, chunkContent, fileContext, subSymbol, now)
		chunk.Symbols = symbols
		chunks = append(chunks, chunk)
	}

	return chunks
}

// bodyNodeFor returns the block/body node of a symbol node, i.e. the child
// most likely to contain a flat list of splittable units.
func bodyNodeFor(n *Node) *Node {
	bodyTypes := map[string]bool{
		"block":                 true,
		"function_body":         true,
		"class_body":            true,
		"interface_body":        true,
		"struct_type":           true,
		"field_declaration_list": true,
	}
	var best *Node
	for _, child := range n.Children {
		if bodyTypes[child.Type] {
			best = child
		}
	}
	return best
}

// splitByStatementBoundaries splits content on blank-line gaps, falling
// back to a fixed window only when no gap exists at all. Chunks never span
// files and always keep start_line <= end_line.
func (c *CodeChunker) splitByStatementBoundaries(content string, symbol *Symbol, file *FileInput, fileContext string, now time.Time, startLine int) []*Chunk {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return []*Chunk{}
	}

	maxLinesPerChunk := (c.options.MaxChunkTokens * 10) / 13 // inverse of the 1.3 token estimator, ~1 token/line
	if maxLinesPerChunk < 20 {
		maxLinesPerChunk = 20
	}

	var chunks []*Chunk
	i := 0
	for i < len(lines) {
		end := i + maxLinesPerChunk
		if end > len(lines) {
			end = len(lines)
		} else {
			// Prefer to end on a blank line within the tail of the window.
			for j := end; j > i+MinChunkTokens/10 && j > i; j-- {
				if strings.TrimSpace(lines[j-1]) == "" {
					end = j
					break
				}
			}
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunkStartLine := startLine + i
		chunkEndLine := startLine + end - 1

		subSymbol := &Symbol{
			Name:      fmt.Sprintf("%s_part%d", symbol.Name, len(chunks)+1),
			Type:      symbol.Type,
			StartLine: chunkStartLine,
			EndLine:   chunkEndLine,
		}
		symbols := []*Symbol{subSymbol}
		if len(chunks) == 0 {
			parent := *symbol
			symbols = append(symbols, &parent)
		}

		chunk := c.createChunk(file, chunkContent, fileContext, subSymbol, now)
		chunk.Symbols = symbols
		chunks = append(chunks, chunk)

		if end >= len(lines) {
			break
		}
		i = end
	}

	return chunks
}

// createChunk creates a single chunk from content
func (c *CodeChunker) createChunk(file *FileInput, rawContent, fileContext string, symbol *Symbol, now time.Time) *Chunk {
	contentHash := sha256Hex(rawContent)
	chunk := &Chunk{
		ID:          generateChunkID(file.RepoID, file.Path, symbol.StartLine, symbol.EndLine, symbol.Name, contentHash),
		FilePath:    file.Path,
		Content:     combineContextAndContent(fileContext, rawContent),
		RawContent:  rawContent,
		Context:     fileContext,
		ContentType: ContentTypeCode,
		Language:    file.Language,
		StartLine:   symbol.StartLine,
		EndLine:     symbol.EndLine,
		Symbols:     []*Symbol{symbol},
		Metadata:    make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
		Kind:        kindFromSymbolType(symbol.Type),
		ContentHash: contentHash,
	}
	chunk.Tokens = estimateTokens(chunk.Content)
	chunk.Description = describeSymbol(symbol)
	chunk.IntentTags = inferIntentTags(symbol.Name)
	chunk.Keywords = splitIdentifier(symbol.Name)
	return chunk
}

// kindFromSymbolType maps a tree-sitter symbol classification onto the
// language-agnostic Kind used by the scorer and the LLM stages.
func kindFromSymbolType(t SymbolType) Kind {
	switch t {
	case SymbolTypeMethod:
		return KindMethod
	case SymbolTypeClass, SymbolTypeInterface, SymbolTypeType:
		return KindClass
	default:
		return KindFunction
	}
}

// extractFileContext extracts package declaration and imports from a file
func (c *CodeChunker) extractFileContext(tree *Tree, source []byte, language string) string {
	var parts []string

	switch language {
	case "go":
		parts = c.extractGoContext(tree, source)
	case "typescript", "tsx":
		parts = c.extractTSContext(tree, source)
	case "javascript", "jsx":
		parts = c.extractJSContext(tree, source)
	case "python":
		parts = c.extractPythonContext(tree, source)
	}

	return strings.Join(parts, "\n\n")
}

func (c *CodeChunker) extractGoContext(tree *Tree, source []byte) []string {
	var parts []string

	// Find package clause
	for _, node := range tree.Root.Children {
		if node.Type == "package_clause" {
			parts = append(parts, node.GetContent(source))
			break
		}
	}

	// Find import declarations
	for _, node := range tree.Root.Children {
		if node.Type == "import_declaration" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

func (c *CodeChunker) extractTSContext(tree *Tree, source []byte) []string {
	return c.extractJSContext(tree, source) // Same for TS/TSX
}

func (c *CodeChunker) extractJSContext(tree *Tree, source []byte) []string {
	var parts []string

	// Find import statements
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

func (c *CodeChunker) extractPythonContext(tree *Tree, source []byte) []string {
	var parts []string

	// Find import statements
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" || node.Type == "import_from_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

// chunkByLines is the fallback for unsupported languages
func (c *CodeChunker) chunkByLines(file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	linesPerChunk := 128 // fixed window size in lines
	overlapLines := 16   // lines shared between consecutive windows

	var chunks []*Chunk
	now := time.Now()

	for i := 0; i < len(lines); {
		end := i + linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		startLine := i + 1 // 1-indexed
		endLine := end     // Inclusive

		contentHash := sha256Hex(chunkContent)
		chunk := &Chunk{
			ID:          generateChunkID(file.RepoID, file.Path, startLine, endLine, "", contentHash),
			FilePath:    file.Path,
			Content:     chunkContent,
			RawContent:  chunkContent,
			Context:     "",
			ContentType: ContentTypeText,
			Language:    file.Language,
			StartLine:   startLine,
			EndLine:     endLine,
			Symbols:     nil,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
			Kind:        KindBlock,
			ContentHash: contentHash,
		}
		chunk.Tokens = estimateTokens(chunk.Content)
		chunks = append(chunks, chunk)

		// Move forward with overlap
		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks, nil
}

// generateChunkID derives a stable chunk identifier from everything that
// defines a chunk's identity: the repo, its path, its line span, the symbol
// it holds (if any), and a hash of its content. Re-indexing an unchanged
// symbol at the same location reproduces the same ID; a changed body or a
// shifted span produces a new one, which is what drives re-embedding.
func generateChunkID(repoID, filePath string, startLine, endLine int, symbol, contentHash string) string {
	input := fmt.Sprintf("%s:%s:%d:%d:%s:%s", repoID, filePath, startLine, endLine, symbol, contentHash)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// sha256Hex returns the full hex-encoded SHA-256 of content, used both as
// the chunk content hash and as the embedding/summary cache key component.
func sha256Hex(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// estimateTokens approximates token count as whitespace- and
// punctuation-delimited word count, scaled by 1.3 to account for
// subword tokenization. This avoids pulling in a model-specific tokenizer
// for a budget check that only needs to be roughly right.
func estimateTokens(content string) int {
	words := strings.FieldsFunc(content, func(r rune) bool {
		switch {
		case r == '_':
			return false
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return false
		default:
			return true
		}
	})
	return int(float64(len(words))*1.3 + 0.5)
}

// describeSymbol builds a short deterministic description from a symbol's
// doc comment (first line) or, failing that, its name and kind. This is
// the Description fallback used when no LLM summary is available.
func describeSymbol(symbol *Symbol) string {
	if symbol.DocComment != "" {
		lines := strings.SplitN(strings.TrimSpace(symbol.DocComment), "\n", 2)
		first := strings.TrimSpace(lines[0])
		if first != "" {
			return first
		}
	}
	return fmt.Sprintf("%s %s", symbol.Type, symbol.Name)
}

// inferIntentTags makes a cheap guess at CRUD-style intent from a symbol
// name's leading verb. The LLM rewrite/rerank stages treat this as a prior,
// not ground truth.
func inferIntentTags(name string) []IntentTag {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "get") || strings.HasPrefix(lower, "find") || strings.HasPrefix(lower, "fetch") || strings.HasPrefix(lower, "read"):
		return []IntentTag{IntentRead}
	case strings.HasPrefix(lower, "list") || strings.HasPrefix(lower, "search") || strings.HasPrefix(lower, "query"):
		return []IntentTag{IntentList}
	case strings.HasPrefix(lower, "create") || strings.HasPrefix(lower, "new") || strings.HasPrefix(lower, "add") || strings.HasPrefix(lower, "insert"):
		return []IntentTag{IntentCreate}
	case strings.HasPrefix(lower, "update") || strings.HasPrefix(lower, "set") || strings.HasPrefix(lower, "patch"):
		return []IntentTag{IntentUpdate}
	case strings.HasPrefix(lower, "delete") || strings.HasPrefix(lower, "remove") || strings.HasPrefix(lower, "drop"):
		return []IntentTag{IntentDelete}
	default:
		return []IntentTag{IntentOther}
	}
}

// splitIdentifier splits a camelCase or snake_case identifier into lowercase
// keyword parts, deduped and order-preserved.
func splitIdentifier(name string) []string {
	if name == "" {
		return nil
	}
	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-':
			flush()
		case r >= 'A' && r <= 'Z' && i > 0 && !(runes[i-1] >= 'A' && runes[i-1] <= 'Z'):
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// combineContextAndContent combines context and raw content into full content
func combineContextAndContent(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	return context + "\n\n" + rawContent
}

// enrichContextWithFilePath prepends a file path marker to the context.
// This helps embedding models understand file location and scope.
// The marker format is language-appropriate (// for Go/JS/TS, # for Python).
func (c *CodeChunker) enrichContextWithFilePath(filePath, language, existingContext string) string {
	if filePath == "" {
		return existingContext
	}

	// Use language-appropriate comment syntax
	var marker string
	switch language {
	case "python":
		marker = fmt.Sprintf("# File: %s", filePath)
	default:
		// Go, TypeScript, JavaScript, etc. use //
		marker = fmt.Sprintf("// File: %s", filePath)
	}

	if existingContext == "" {
		return marker
	}
	return marker + "\n" + existingContext
}
