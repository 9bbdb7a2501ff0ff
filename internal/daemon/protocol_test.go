package daemon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexRequest_JSON(t *testing.T) {
	req := IndexRequest{RepoPath: "/path/to/project", Rebuild: true}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded IndexRequest
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, req.RepoPath, decoded.RepoPath)
	assert.True(t, decoded.Rebuild)
}

func TestQueryRequest_JSON(t *testing.T) {
	req := QueryRequest{RepoPath: "/path/to/project", Query: "where is auth handled", TopK: 5}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded QueryRequest
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, req.RepoPath, decoded.RepoPath)
	assert.Equal(t, req.Query, decoded.Query)
	assert.Equal(t, req.TopK, decoded.TopK)
}

func TestQueryResult_JSON(t *testing.T) {
	result := QueryResult{
		FilePath:  "/path/to/file.go",
		StartLine: 42,
		EndLine:   50,
		Symbol:    "HandleQuery",
		Score:     0.89,
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded QueryResult
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, result.FilePath, decoded.FilePath)
	assert.Equal(t, result.StartLine, decoded.StartLine)
	assert.Equal(t, result.EndLine, decoded.EndLine)
	assert.Equal(t, result.Symbol, decoded.Symbol)
	assert.InDelta(t, result.Score, decoded.Score, 0.001)
}

func TestStatusResponse_JSON(t *testing.T) {
	status := StatusResponse{
		Status:        "ok",
		RepoPath:      "/path/to/project",
		IndexedFiles:  12,
		IndexedChunks: 340,
		Model:         "nomic-embed-text-v1.5",
		Healthy:       true,
	}

	data, err := json.Marshal(status)
	require.NoError(t, err)

	var decoded StatusResponse
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, status.RepoPath, decoded.RepoPath)
	assert.Equal(t, status.IndexedFiles, decoded.IndexedFiles)
	assert.Equal(t, status.IndexedChunks, decoded.IndexedChunks)
	assert.Equal(t, status.Model, decoded.Model)
	assert.Equal(t, status.Healthy, decoded.Healthy)
}

func TestErrorEnvelope_JSON(t *testing.T) {
	env := newErrorEnvelope(&DaemonError{Code: CodeBusy, Message: "an index is already running"})

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded ErrorEnvelope
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "error", decoded.Status)
	assert.Equal(t, CodeBusy, decoded.Error.Code)
	assert.Equal(t, "an index is already running", decoded.Error.Message)
}

func TestDaemonError_Error(t *testing.T) {
	err := &DaemonError{Code: CodeInternal, Message: "indexing failed", Details: "disk full"}
	assert.Equal(t, "indexing failed: disk full", err.Error())

	errNoDetails := &DaemonError{Code: CodeInternal, Message: "indexing failed"}
	assert.Equal(t, "indexing failed", errNoDetails.Error())
}

func TestHTTPStatusFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeInvalidRepo, 400},
		{CodeNotIndexed, 404},
		{CodeBusy, 409},
		{CodeIndexDimensionMismatch, 409},
		{CodeInternal, 500},
		{"UNKNOWN", 500},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, httpStatusFor(tt.code))
		})
	}
}
