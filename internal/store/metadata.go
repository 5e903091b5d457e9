package store

import (
	"context"
	"database/sql"
	"time"
)

// SetMetadata upserts a key-value pair.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a key, or an empty string if it is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetImportedFileHash returns the content hash recorded for an imported records file.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	return s.GetMetadata(ctx, "import_hash:"+path)
}

// SetImportedFileHash records the content hash of an imported records file
// along with the import time.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	if err := s.SetMetadata(ctx, "import_hash:"+path, hash); err != nil {
		return err
	}
	return s.SetMetadata(ctx, "last_import", time.Now().UTC().Format(time.RFC3339))
}

// LastImport returns the time of the most recent import, or the zero time.
func (s *Store) LastImport(ctx context.Context) (time.Time, error) {
	v, err := s.GetMetadata(ctx, "last_import")
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}
