package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// StoreConfig configures the metadata store's SQLite connection.
type StoreConfig struct {
	// CacheSizeMB is the SQLite page cache size in megabytes (default: 64).
	CacheSizeMB int
}

// DefaultStoreConfig returns sensible defaults for the metadata store.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{CacheSizeMB: 64}
}

// SQLiteStore implements MetadataStore over a single-file SQLite database.
// It mirrors the WAL/single-writer/integrity-check pattern used by the
// project's other SQLite-backed component (the now-removed FTS5 keyword
// index): pure-Go driver, one writer connection, corruption auto-clears
// rather than failing startup.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

// validateMetadataIntegrity checks a metadata DB before opening it.
func validateMetadataIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens (or creates) a metadata store at path using default
// configuration. An empty path opens an in-memory store, useful for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(path, DefaultStoreConfig())
}

// NewSQLiteStoreWithConfig opens a metadata store with a custom cache size.
func NewSQLiteStoreWithConfig(path string, cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.CacheSizeMB <= 0 {
		cfg.CacheSizeMB = DefaultStoreConfig().CacheSizeMB
	}

	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateMetadataIntegrity(path); validErr != nil {
			slog.Warn("metadata_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("metadata store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("metadata_store_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeMB*1024),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
	INSERT OR IGNORE INTO schema_version (version) VALUES (` + strconv.Itoa(CurrentSchemaVersion) + `);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		root_path TEXT NOT NULL,
		project_type TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		file_count INTEGER NOT NULL DEFAULT 0,
		indexed_at INTEGER,
		version TEXT
	);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER,
		mod_time INTEGER,
		content_hash TEXT,
		language TEXT,
		content_type TEXT,
		indexed_at INTEGER,
		UNIQUE(project_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);
	CREATE INDEX IF NOT EXISTS idx_files_project_path_prefix ON files(project_id, path);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		content TEXT,
		raw_content TEXT,
		context TEXT,
		content_type TEXT,
		language TEXT,
		start_line INTEGER,
		end_line INTEGER,
		symbols_json TEXT,
		symbol_names TEXT,
		metadata_json TEXT,
		kind TEXT,
		content_hash TEXT,
		tokens INTEGER,
		description TEXT,
		summary TEXT,
		intent_tags_json TEXT,
		keywords_json TEXT,
		http_method TEXT,
		resource TEXT,
		embedding BLOB,
		embedding_model TEXT,
		created_at INTEGER,
		updated_at INTEGER,
		FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);

	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoint (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		stage TEXT,
		total INTEGER,
		embedded_count INTEGER,
		timestamp INTEGER,
		embedder_model TEXT
	);

	CREATE TABLE IF NOT EXISTS embedding_cache (
		key TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		value BLOB NOT NULL,
		created_at INTEGER
	);
	CREATE TABLE IF NOT EXISTS summary_cache (
		key TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at INTEGER
	);
	CREATE TABLE IF NOT EXISTS rewrite_cache (
		key TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at INTEGER
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the underlying connection for callers that need raw access
// (compaction, backup, diagnostics).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the store. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// --- Project operations ---

func (s *SQLiteStore) SaveProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, root_path, project_type, chunk_count, file_count, indexed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, root_path=excluded.root_path, project_type=excluded.project_type,
			chunk_count=excluded.chunk_count, file_count=excluded.file_count,
			indexed_at=excluded.indexed_at, version=excluded.version`,
		p.ID, p.Name, p.RootPath, p.ProjectType, p.ChunkCount, p.FileCount, timeToUnix(p.IndexedAt), p.Version)
	return err
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, root_path, project_type, chunk_count, file_count, indexed_at, version
		FROM projects WHERE id = ?`, id)

	p := &Project{}
	var indexedAt int64
	err := row.Scan(&p.ID, &p.Name, &p.RootPath, &p.ProjectType, &p.ChunkCount, &p.FileCount, &indexedAt, &p.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.IndexedAt = unixToTime(indexedAt)
	return p, nil
}

func (s *SQLiteStore) UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET file_count = ?, chunk_count = ?, indexed_at = ? WHERE id = ?`,
		fileCount, chunkCount, time.Now().Unix(), id)
	return err
}

func (s *SQLiteStore) RefreshProjectStats(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fileCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE project_id = ?`, id).Scan(&fileCount); err != nil {
		return err
	}
	var chunkCount int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks WHERE file_id IN (SELECT id FROM files WHERE project_id = ?)`, id).Scan(&chunkCount); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET file_count = ?, chunk_count = ?, indexed_at = ? WHERE id = ?`,
		fileCount, chunkCount, time.Now().Unix(), id)
	return err
}

// --- File operations ---

func (s *SQLiteStore) SaveFiles(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, path) DO UPDATE SET
			id=excluded.id, size=excluded.size, mod_time=excluded.mod_time, content_hash=excluded.content_hash,
			language=excluded.language, content_type=excluded.content_type, indexed_at=excluded.indexed_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range files {
		indexedAt := f.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, f.ID, f.ProjectID, f.Path, f.Size, timeToUnix(f.ModTime),
			f.ContentHash, f.Language, f.ContentType, timeToUnix(indexedAt)); err != nil {
			return fmt.Errorf("failed to save file %s: %w", f.Path, err)
		}
	}
	return tx.Commit()
}

func scanFile(row interface {
	Scan(dest ...any) error
}) (*File, error) {
	f := &File{}
	var modTime, indexedAt int64
	err := row.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &modTime, &f.ContentHash, &f.Language, &f.ContentType, &indexedAt)
	if err != nil {
		return nil, err
	}
	f.ModTime = unixToTime(modTime)
	f.IndexedAt = unixToTime(indexedAt)
	return f, nil
}

func (s *SQLiteStore) GetFileByPath(ctx context.Context, projectID, path string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id = ? AND path = ?`, projectID, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func (s *SQLiteStore) GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id = ? AND mod_time >= ? ORDER BY path`, projectID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// encodeCursor/decodeCursor implement an opaque offset-based pagination
// cursor: base64("offset:<N>"). Keeping the format opaque (rather than a
// bare integer) leaves room to switch to a keyset cursor later without
// breaking callers that just round-trip the string.
func encodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("offset:%d", offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 || parts[0] != "offset" {
		return 0, fmt.Errorf("invalid cursor format")
	}
	offset, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid cursor offset: %w", err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("invalid cursor: offset must be non-negative")
	}
	return offset, nil
}

func (s *SQLiteStore) ListFiles(ctx context.Context, projectID string, cursor string, limit int) ([]*File, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id = ? ORDER BY path LIMIT ? OFFSET ?`, projectID, limit+1, offset)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(out) > limit {
		out = out[:limit]
		nextCursor = encodeCursor(offset + limit)
	}
	return out, nextCursor, nil
}

func (s *SQLiteStore) GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error) {
	return s.ListFilePathsUnder(ctx, projectID, "")
}

func (s *SQLiteStore) GetFilesForReconciliation(ctx context.Context, projectID string) (map[string]*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*File)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out[f.Path] = f
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListFilePathsUnder(ctx context.Context, projectID, dirPrefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT path FROM files WHERE project_id = ?`
	args := []any{projectID}
	if dirPrefix != "" {
		prefix := strings.TrimSuffix(dirPrefix, "/") + "/"
		query += ` AND path LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(prefix)+"%")
	}
	query += ` ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	return err
}

func (s *SQLiteStore) DeleteFilesByProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE project_id = ?`, projectID)
	return err
}

// --- Chunk operations ---

func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (
			id, file_id, file_path, content, raw_content, context, content_type, language,
			start_line, end_line, symbols_json, symbol_names, metadata_json,
			kind, content_hash, tokens, description, summary, intent_tags_json, keywords_json,
			http_method, resource, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_id=excluded.file_id, file_path=excluded.file_path, content=excluded.content,
			raw_content=excluded.raw_content, context=excluded.context, content_type=excluded.content_type,
			language=excluded.language, start_line=excluded.start_line, end_line=excluded.end_line,
			symbols_json=excluded.symbols_json, symbol_names=excluded.symbol_names,
			metadata_json=excluded.metadata_json, kind=excluded.kind, content_hash=excluded.content_hash,
			tokens=excluded.tokens, description=excluded.description, summary=excluded.summary,
			intent_tags_json=excluded.intent_tags_json, keywords_json=excluded.keywords_json,
			http_method=excluded.http_method, resource=excluded.resource, updated_at=excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range chunks {
		symbolsJSON, err := json.Marshal(c.Symbols)
		if err != nil {
			return fmt.Errorf("failed to marshal symbols for chunk %s: %w", c.ID, err)
		}
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for chunk %s: %w", c.ID, err)
		}
		intentJSON, _ := json.Marshal(c.IntentTags)
		keywordsJSON, _ := json.Marshal(c.Keywords)

		names := make([]string, 0, len(c.Symbols))
		for _, sym := range c.Symbols {
			names = append(names, strings.ToLower(sym.Name))
		}

		createdAt, updatedAt := c.CreatedAt, c.UpdatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if updatedAt.IsZero() {
			updatedAt = now
		}

		if _, err := stmt.ExecContext(ctx,
			c.ID, c.FileID, c.FilePath, c.Content, c.RawContent, c.Context, string(c.ContentType), c.Language,
			c.StartLine, c.EndLine, string(symbolsJSON), strings.Join(names, " "), string(metadataJSON),
			c.Kind, c.ContentHash, c.Tokens, c.Description, c.Summary, string(intentJSON), string(keywordsJSON),
			c.HTTPMethod, c.Resource, timeToUnix(createdAt), timeToUnix(updatedAt),
		); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func scanChunk(row interface {
	Scan(dest ...any) error
}) (*Chunk, error) {
	c := &Chunk{}
	var contentType, symbolsJSON, metadataJSON, intentJSON, keywordsJSON string
	var createdAt, updatedAt int64
	err := row.Scan(&c.ID, &c.FileID, &c.FilePath, &c.Content, &c.RawContent, &c.Context, &contentType, &c.Language,
		&c.StartLine, &c.EndLine, &symbolsJSON, &metadataJSON,
		&c.Kind, &c.ContentHash, &c.Tokens, &c.Description, &c.Summary, &intentJSON, &keywordsJSON,
		&c.HTTPMethod, &c.Resource, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.ContentType = ContentType(contentType)
	c.CreatedAt = unixToTime(createdAt)
	c.UpdatedAt = unixToTime(updatedAt)
	if symbolsJSON != "" {
		_ = json.Unmarshal([]byte(symbolsJSON), &c.Symbols)
	}
	if metadataJSON != "" {
		_ = json.Unmarshal([]byte(metadataJSON), &c.Metadata)
	}
	if intentJSON != "" {
		_ = json.Unmarshal([]byte(intentJSON), &c.IntentTags)
	}
	if keywordsJSON != "" {
		_ = json.Unmarshal([]byte(keywordsJSON), &c.Keywords)
	}
	return c, nil
}

const chunkSelectColumns = `
	id, file_id, file_path, content, raw_content, context, content_type, language,
	start_line, end_line, symbols_json, metadata_json,
	kind, content_hash, tokens, description, summary, intent_tags_json, keywords_json,
	http_method, resource, created_at, updated_at`

func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+chunkSelectColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkSelectColumns+` FROM chunks WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetChunksByFile(ctx context.Context, fileID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkSelectColumns+` FROM chunks WHERE file_id = ? ORDER BY start_line`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	return err
}

func (s *SQLiteStore) DeleteChunksByFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	return err
}

// --- Symbol operations ---

func (s *SQLiteStore) SearchSymbols(ctx context.Context, name string, limit int) ([]*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	needle := "%" + escapeLike(strings.ToLower(name)) + "%"

	rows, err := s.db.QueryContext(ctx,
		`SELECT symbols_json FROM chunks WHERE symbol_names LIKE ? ESCAPE '\' LIMIT ?`, needle, limit*4)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Symbol
	seen := make(map[string]bool)
	lowerName := strings.ToLower(name)
	for rows.Next() {
		var symbolsJSON string
		if err := rows.Scan(&symbolsJSON); err != nil {
			return nil, err
		}
		var symbols []*Symbol
		if err := json.Unmarshal([]byte(symbolsJSON), &symbols); err != nil {
			continue
		}
		for _, sym := range symbols {
			if !strings.Contains(strings.ToLower(sym.Name), lowerName) {
				continue
			}
			key := fmt.Sprintf("%s:%d:%d", sym.Name, sym.StartLine, sym.EndLine)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, sym)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, rows.Err()
}

// --- State operations ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// --- Embedding operations ---

// embeddingToBytes flattens a float32 vector into a little-endian byte blob.
func embeddingToBytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToEmbedding reconstructs a float32 vector from embeddingToBytes' output.
func bytesToEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func (s *SQLiteStore) SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error {
	if len(chunkIDs) != len(embeddings) {
		return fmt.Errorf("chunkIDs and embeddings length mismatch: %d != %d", len(chunkIDs), len(embeddings))
	}
	if len(chunkIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE chunks SET embedding = ?, embedding_model = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, embeddingToBytes(embeddings[i]), model, id); err != nil {
			return fmt.Errorf("failed to save embedding for chunk %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		if len(blob) == 0 {
			continue
		}
		out[id] = bytesToEmbedding(blob)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetEmbeddingStats(ctx context.Context) (withEmbedding, withoutEmbedding int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL`).Scan(&withEmbedding); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE embedding IS NULL`).Scan(&withoutEmbedding); err != nil {
		return 0, 0, err
	}
	return withEmbedding, withoutEmbedding, nil
}

// --- Checkpoint operations ---

func (s *SQLiteStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoint (id, stage, total, embedded_count, timestamp, embedder_model)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage=excluded.stage, total=excluded.total, embedded_count=excluded.embedded_count,
			timestamp=excluded.timestamp, embedder_model=excluded.embedder_model`,
		stage, total, embeddedCount, time.Now().Unix(), embedderModel)
	return err
}

func (s *SQLiteStore) LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cp IndexCheckpoint
	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT stage, total, embedded_count, timestamp, embedder_model FROM checkpoint WHERE id = 1`).
		Scan(&cp.Stage, &cp.Total, &cp.EmbeddedCount, &ts, &cp.EmbedderModel)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp.Timestamp = unixToTime(ts)
	return &cp, nil
}

func (s *SQLiteStore) ClearIndexCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoint WHERE id = 1`)
	return err
}

// --- Embedding / summary / rewrite caches ---
//
// These three tables back the content-hash-keyed caches described for the
// embedding service (the hybrid scorer) and the LLM collaborator stages (the hybrid scorer): the
// in-process LRU in internal/embed only smooths repeats within one daemon
// lifetime, these tables make cache hits survive a restart.

func (s *SQLiteStore) GetCachedEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM embedding_cache WHERE key = ?`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytesToEmbedding(blob), true, nil
}

func (s *SQLiteStore) SetCachedEmbedding(ctx context.Context, key, modelID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (key, model_id, value, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET model_id=excluded.model_id, value=excluded.value, created_at=excluded.created_at`,
		key, modelID, embeddingToBytes(embedding), time.Now().Unix())
	return err
}

func (s *SQLiteStore) GetCachedSummary(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM summary_cache WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return value, err == nil, err
}

func (s *SQLiteStore) SetCachedSummary(ctx context.Context, key, modelID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_cache (key, model_id, value, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET model_id=excluded.model_id, value=excluded.value, created_at=excluded.created_at`,
		key, modelID, summary, time.Now().Unix())
	return err
}

func (s *SQLiteStore) GetCachedRewrite(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM rewrite_cache WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return value, err == nil, err
}

func (s *SQLiteStore) SetCachedRewrite(ctx context.Context, key, modelID, rewrite string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rewrite_cache (key, model_id, value, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET model_id=excluded.model_id, value=excluded.value, created_at=excluded.created_at`,
		key, modelID, rewrite, time.Now().Unix())
	return err
}

func timeToUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func unixToTime(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0).UTC()
}
