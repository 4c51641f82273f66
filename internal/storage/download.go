package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Download copies key into localPath. The object is written to a temporary
// file in the same directory and renamed, so a partial download never leaves
// a truncated file at localPath.
func Download(ctx context.Context, store ObjectStore, key, localPath string) (int64, error) {
	if store == nil {
		return 0, fmt.Errorf("object store is required")
	}
	reader, err := store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("get %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	written, err := io.Copy(tmp, reader)
	if err != nil {
		cleanup()
		return 0, fmt.Errorf("copy %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, fmt.Errorf("sync %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("close %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("rename into %q: %w", localPath, err)
	}
	return written, nil
}
