package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder is a simple embedder for daemon tests that doesn't require Ollama.
type mockEmbedder struct {
	dims int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, m.dims), nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = make([]float32, m.dims)
	}
	return result, nil
}

func (m *mockEmbedder) Dimensions() int {
	return m.dims
}

func (m *mockEmbedder) ModelName() string {
	return "mock-embedder"
}

func (m *mockEmbedder) Available(_ context.Context) bool {
	return true
}

func (m *mockEmbedder) Close() error {
	return nil
}

func (m *mockEmbedder) SetBatchIndex(_ int) {}

func (m *mockEmbedder) SetFinalBatch(_ bool) {}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dims: 768}
}

// freePort asks the OS for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// daemonTestConfig creates a test configuration with unique ports/paths.
func daemonTestConfig(t *testing.T) Config {
	t.Helper()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	pidPath := filepath.Join(t.TempDir(), fmt.Sprintf("xtrc-daemon-test-%s.pid", suffix))

	return Config{
		Host:                "127.0.0.1",
		Port:                freePort(t),
		MetricsPort:         0,
		PIDPath:             pidPath,
		Timeout:             5 * time.Second,
		ShutdownGracePeriod: 2 * time.Second,
		MaxProjects:         5,
	}
}

func TestNewDaemon(t *testing.T) {
	cfg := daemonTestConfig(t)

	d, err := NewDaemon(cfg)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestDaemon_StartStop(t *testing.T) {
	cfg := daemonTestConfig(t)

	d, err := NewDaemon(cfg, WithEmbedder(newMockEmbedder()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)

	pf := NewPIDFile(cfg.PIDPath)
	assert.True(t, pf.IsRunning(), "daemon should be running")

	client := NewClient(cfg)
	assert.True(t, client.IsRunning())

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_ClientCanConnect(t *testing.T) {
	cfg := daemonTestConfig(t)

	d, err := NewDaemon(cfg, WithEmbedder(newMockEmbedder()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = d.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)

	client := NewClient(cfg)
	assert.True(t, client.IsRunning())

	err = client.Ping(ctx)
	require.NoError(t, err)
}

func TestDaemon_Status_NotIndexed(t *testing.T) {
	cfg := daemonTestConfig(t)

	d, err := NewDaemon(cfg, WithEmbedder(newMockEmbedder()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = d.Start(ctx) }()
	time.Sleep(100 * time.Millisecond)

	client := NewClient(cfg)
	status, err := client.Status(ctx, t.TempDir())
	require.NoError(t, err)

	assert.False(t, status.Healthy)
	assert.Equal(t, "not_indexed", status.Reason)
}

func TestNewDaemon_InvalidConfig(t *testing.T) {
	cfg := Config{
		Host:    "",
		PIDPath: "/tmp/test.pid",
		Timeout: 5 * time.Second,
	}

	_, err := NewDaemon(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNewDaemon_WithEmbedder(t *testing.T) {
	cfg := daemonTestConfig(t)
	customEmbedder := &mockEmbedder{dims: 384}

	d, err := NewDaemon(cfg, WithEmbedder(customEmbedder))

	require.NoError(t, err)
	assert.Equal(t, customEmbedder, d.embedder)
	assert.Equal(t, 384, d.embedder.Dimensions())
}

func TestDaemon_HandleQuery_NotIndexed(t *testing.T) {
	cfg := daemonTestConfig(t)

	d, err := NewDaemon(cfg, WithEmbedder(newMockEmbedder()))
	require.NoError(t, err)

	tmpDir := t.TempDir()
	_, err = d.HandleQuery(context.Background(), QueryRequest{RepoPath: tmpDir, Query: "test query", TopK: 10})

	require.Error(t, err)
	var derr *DaemonError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, CodeNotIndexed, derr.Code)
}

func TestDaemon_HandleIndex_InvalidRepo(t *testing.T) {
	cfg := daemonTestConfig(t)

	d, err := NewDaemon(cfg, WithEmbedder(newMockEmbedder()))
	require.NoError(t, err)

	_, err = d.HandleIndex(context.Background(), IndexRequest{RepoPath: "/does/not/exist/at/all"})

	require.Error(t, err)
	var derr *DaemonError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, CodeInvalidRepo, derr.Code)
}

func TestProjectState_Close(t *testing.T) {
	state := &projectState{
		rootPath: "/test/path",
		loadedAt: time.Now(),
		lastUsed: time.Now(),
	}

	err := state.Close()

	assert.NoError(t, err)
}

func TestDaemon_EvictLRU_MultipleProjects(t *testing.T) {
	cfg := daemonTestConfig(t)
	cfg.MaxProjects = 2

	d, err := NewDaemon(cfg, WithEmbedder(newMockEmbedder()))
	require.NoError(t, err)

	d.projects = map[string]*projectState{
		"/project1": {
			rootPath: "/project1",
			lastUsed: time.Now().Add(-3 * time.Hour), // oldest
		},
		"/project2": {
			rootPath: "/project2",
			lastUsed: time.Now().Add(-1 * time.Hour), // newest
		},
	}

	d.evictLRU()

	assert.Len(t, d.projects, 1)
	assert.Nil(t, d.projects["/project1"], "oldest project should be evicted")
	assert.NotNil(t, d.projects["/project2"], "newest project should remain")
}

func TestDaemon_EvictLRU_EmptyProjects(t *testing.T) {
	cfg := daemonTestConfig(t)

	d, err := NewDaemon(cfg, WithEmbedder(newMockEmbedder()))
	require.NoError(t, err)

	d.projects = map[string]*projectState{}

	d.evictLRU()

	assert.Empty(t, d.projects)
}

func TestDaemon_Cleanup(t *testing.T) {
	cfg := daemonTestConfig(t)

	mockEmb := newMockEmbedder()
	d, err := NewDaemon(cfg, WithEmbedder(mockEmb))
	require.NoError(t, err)

	d.projects = map[string]*projectState{
		"/test": {
			rootPath: "/test",
			lastUsed: time.Now(),
		},
	}

	d.cleanup()

	assert.Empty(t, d.projects)
	assert.Nil(t, d.embedder)
}

func TestCanonicalizeRepoPath_Empty(t *testing.T) {
	_, err := canonicalizeRepoPath("")

	require.Error(t, err)
	var derr *DaemonError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, CodeInvalidRepo, derr.Code)
}

func TestCanonicalizeRepoPath_NotADirectory(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-dir")
	require.NoError(t, err)
	f.Close()

	_, err = canonicalizeRepoPath(f.Name())

	require.Error(t, err)
	var derr *DaemonError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, CodeInvalidRepo, derr.Code)
}
