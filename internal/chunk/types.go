package chunk

import (
	"context"
	"time"
)

// Chunk size bounds. Each symbol becomes its own chunk; a symbol chunk
// below chunk_min is not merged with neighbouring symbols. A symbol above
// chunk_max is split at child boundaries (children are grouped until a
// group holds at least chunk_min tokens) or else at blank lines. Content
// is never truncated.
const (
	DefaultMaxChunkTokens = 800 // chunk_max
	MinChunkTokens        = 200 // chunk_min
	TokensPerChar         = 4   // not used by estimateTokens
)

// ContentType represents the type of content in a chunk
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Kind classifies what a chunk represents, independent of source language.
type Kind string

const (
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindClass    Kind = "class"
	KindRoute    Kind = "route"
	KindBlock    Kind = "block"
)

// IntentTag labels the inferred purpose of a chunk's symbol, used by the
// scorer's intent_score component and surfaced to the LLM rewrite/rerank
// stages.
type IntentTag string

const (
	IntentRead   IntentTag = "read_resource"
	IntentCreate IntentTag = "create_resource"
	IntentUpdate IntentTag = "update_resource"
	IntentDelete IntentTag = "delete_resource"
	IntentList   IntentTag = "list_resource"
	IntentOther  IntentTag = "other"
)

// Chunk is a retrievable unit of content
type Chunk struct {
	ID          string            // sha256(repo_id, path, start_line, end_line, symbol, content_hash)[:16]
	FilePath    string            // Relative to project root
	Content     string            // Full content with context, for display
	RawContent  string            // Just the symbol, no context (code only)
	Context     string            // Imports, package decl (code only)
	ContentType ContentType       // code, markdown, text
	Language    string            // go, typescript, python, etc.
	StartLine   int               // 1-indexed
	EndLine     int               // Inclusive
	Symbols     []*Symbol         // Functions, classes, etc.
	Metadata    map[string]string // Custom metadata
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Kind, intent, and keyword fields feed the hybrid scorer and the
	// LLM collaborator stages; they never enter the embedding text as
	// raw source.
	Kind        Kind
	ContentHash string // sha256 of RawContent, used for cache keys and the chunk ID
	Tokens      int    // estimateTokens(Content)
	Description string // short deterministic description, derived from symbol + doc comment
	Summary     string // optional LLM-generated summary, overrides Description when present
	IntentTags  []IntentTag
	Keywords    []string // camelCase/snake_case split identifiers, deduped
	HTTPMethod  string   // set only for Kind == KindRoute
	Resource    string   // set only for Kind == KindRoute
}

// FileInput is input for the Chunker interface
type FileInput struct {
	RepoID   string // Stable identifier of the indexed repo, part of the chunk ID
	Path     string // Relative path
	Content  []byte // File content
	Language string // go, typescript, python, etc.
}

// Chunker is the interface for splitting files into chunks
type Chunker interface {
	// Chunk splits a file into semantic chunks
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// SupportedExtensions returns file extensions this chunker handles
	SupportedExtensions() []string
}

// SymbolType represents the kind of code symbol
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol represents a code symbol extracted from parsing
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}

// Tree represents a parsed AST
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig holds configuration for a supported language
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types that indicate function declarations
	FunctionTypes []string

	// Node types that indicate class/struct definitions
	ClassTypes []string

	// Node types that indicate interface definitions
	InterfaceTypes []string

	// Node types that indicate method definitions
	MethodTypes []string

	// Node types that indicate type definitions
	TypeDefTypes []string

	// Node types that indicate constant declarations
	ConstantTypes []string

	// Node types that indicate variable declarations
	VariableTypes []string

	// Node type for name identifier
	NameField string
}
