// Package filestore is the content blob store for uploaded media. Files
// are keyed by a generated file id, never overwritten, and backed by an
// in-memory SQLite database so the whole store vanishes on restart.
package filestore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"
)

// DefaultDSN keeps the database in memory and shared across the pool's
// single connection.
const DefaultDSN = "file::memory:?cache=shared"

// ErrNotFound is returned when a file id refers to no stored file.
var ErrNotFound = errors.New("file not found")

// File is a stored blob with its metadata. Content and metadata are
// immutable after Put; file ids are never reused.
type File struct {
	FileID       string    `db:"file_id"`
	FileUniqueID string    `db:"file_unique_id"`
	Filename     string    `db:"filename"`
	MimeType     string    `db:"mime_type"`
	Content      []byte    `db:"content"`
	CreatedAt    time.Time `db:"created_at"`
}

// Size returns the content length in bytes.
func (f *File) Size() int64 {
	return int64(len(f.Content))
}

// Store provides Put/Get over the blob table.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New connects to the SQLite database at dsn, applies the embedded
// migrations and returns the store. An empty dsn uses DefaultDSN.
func New(dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite doesn't support concurrent writes; a single connection also
	// keeps the in-memory database alive for the process lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyMigrations(db.DB); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("error closing database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger.Info("file store ready", "dsn", dsn)
	return &Store{db: db, logger: logger.With("component", "filestore")}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores content under a fresh file id and returns (fileID,
// fileUniqueID). Existing files are never overwritten; empty content is
// valid.
func (s *Store) Put(ctx context.Context, content []byte, filename, mimeType string) (string, string, error) {
	f := &File{
		FileID:    uuid.NewString(),
		Filename:  filename,
		MimeType:  mimeType,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	f.FileUniqueID = uniqueID(f.FileID)

	const query = `
        INSERT INTO files (file_id, file_unique_id, filename, mime_type, content, created_at)
        VALUES (:file_id, :file_unique_id, :filename, :mime_type, :content, :created_at);
    `
	if _, err := s.db.NamedExecContext(ctx, query, f); err != nil {
		return "", "", fmt.Errorf("failed to store file %q: %w", filename, err)
	}

	s.logger.Debug("file stored", "file_id", f.FileID, "filename", filename, "size", f.Size())
	return f.FileID, f.FileUniqueID, nil
}

// Get retrieves a file by id. Returns ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, fileID string) (*File, error) {
	var f File
	err := s.db.GetContext(ctx, &f, `SELECT * FROM files WHERE file_id = ?`, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file %s: %w", fileID, err)
	}
	return &f, nil
}

// Count reports the number of stored files.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM files`); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

// uniqueID derives the file_unique_id from the file id, a short stable
// hash distinct from the id itself.
func uniqueID(fileID string) string {
	sum := sha256.Sum256([]byte(fileID))
	return hex.EncodeToString(sum[:])[:16]
}
