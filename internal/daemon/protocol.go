package daemon

import "time"

// Error codes returned in ErrorEnvelope.Error.Code.
const (
	CodeInvalidRepo          = "INVALID_REPO"
	CodeNotIndexed            = "NOT_INDEXED"
	CodeBusy                  = "BUSY"
	CodeIndexDimensionMismatch = "INDEX_DIMENSION_MISMATCH"
	CodeInternal              = "INTERNAL"
)

// DaemonError is a classified error carrying one of the Code* constants.
// Handlers map it to the error envelope and the matching HTTP status.
type DaemonError struct {
	Code    string
	Message string
	Details string
}

func (e *DaemonError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// ErrorEnvelope is the JSON body returned for every failed request.
type ErrorEnvelope struct {
	Status string      `json:"status"`
	Error  ErrorDetail `json:"error"`
}

// ErrorDetail is the body of ErrorEnvelope.Error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func newErrorEnvelope(err *DaemonError) ErrorEnvelope {
	return ErrorEnvelope{
		Status: "error",
		Error: ErrorDetail{
			Code:    err.Code,
			Message: err.Message,
			Details: err.Details,
		},
	}
}

// httpStatusFor maps an error code to the HTTP status the daemon replies
// with. The JSON body always carries the code too, so clients don't have
// to special-case on status alone.
func httpStatusFor(code string) int {
	switch code {
	case CodeInvalidRepo:
		return 400
	case CodeNotIndexed:
		return 404
	case CodeBusy:
		return 409
	case CodeIndexDimensionMismatch:
		return 409
	default:
		return 500
	}
}

// IndexRequest is the body of POST /index.
type IndexRequest struct {
	RepoPath string `json:"repo_path"`
	Rebuild  bool   `json:"rebuild,omitempty"`
}

// IndexResponse is the success body of POST /index.
type IndexResponse struct {
	Status        string `json:"status"`
	RepoPath      string `json:"repo_path"`
	FilesScanned  int    `json:"files_scanned"`
	FilesIndexed  int    `json:"files_indexed"`
	FilesDeleted  int    `json:"files_deleted"`
	ChunksIndexed int    `json:"chunks_indexed"`
	DurationMS    int64  `json:"duration_ms"`
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	RepoPath string `json:"repo_path"`
	Query    string `json:"query"`
	TopK     int    `json:"top_k,omitempty"`
}

// QueryResult is a single ranked chunk in a QueryResponse.
type QueryResult struct {
	FilePath        string   `json:"file_path"`
	StartLine       int      `json:"start_line"`
	EndLine         int      `json:"end_line"`
	Symbol          string   `json:"symbol,omitempty"`
	Description     string   `json:"description,omitempty"`
	Score           float32  `json:"score"`
	VectorScore     float32  `json:"vector_score"`
	KeywordScore    float32  `json:"keyword_score"`
	SymbolScore     float32  `json:"symbol_score"`
	IntentScore     float32  `json:"intent_score"`
	StructuralScore float32  `json:"structural_score"`
	MatchedIntents  []string `json:"matched_intents,omitempty"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
	Explanation     string   `json:"explanation"`
}

// QueryResponse is the success body of POST /query.
type QueryResponse struct {
	Status          string        `json:"status"`
	RepoPath        string        `json:"repo_path"`
	Query           string        `json:"query"`
	Results         []QueryResult `json:"results"`
	DurationMS      int64         `json:"duration_ms"`
	Selection       string        `json:"selection,omitempty"`
	SelectionSource string        `json:"selection_source"`
	UsedLLM         bool          `json:"used_llm,omitempty"`
	LLMModel        string        `json:"llm_model,omitempty"`
	LLMLatencyMS    int64         `json:"llm_latency_ms,omitempty"`
	RewrittenQuery  string        `json:"rewritten_query,omitempty"`
}

// StatusResponse is the success body of GET /status.
type StatusResponse struct {
	Status        string    `json:"status"`
	RepoPath      string    `json:"repo_path"`
	IndexedFiles  int       `json:"indexed_files"`
	IndexedChunks int       `json:"indexed_chunks"`
	Model         string    `json:"model,omitempty"`
	Healthy       bool      `json:"healthy"`
	Reason        string    `json:"reason,omitempty"`
	LastIndexedAt time.Time `json:"last_indexed_at,omitempty"`
}
