package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDownloadWritesFile(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"seed/Chinook.db": []byte("sqlite-bytes")}}
	target := filepath.Join(t.TempDir(), "data", "Chinook.db")

	n, err := Download(context.Background(), store, "seed/Chinook.db", target)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if n != int64(len("sqlite-bytes")) {
		t.Fatalf("written = %d", n)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(got) != "sqlite-bytes" {
		t.Fatalf("content = %q", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(target))
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, got %d entries", len(entries))
	}
}

func TestDownloadMissingObject(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{}}
	target := filepath.Join(t.TempDir(), "Chinook.db")

	_, err := Download(context.Background(), store, "missing.db", target)
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Download() error = %v, want ErrObjectNotFound", err)
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Fatalf("target should not exist, stat error = %v", statErr)
	}
}

func TestDownloadFailedCopyLeavesNoFile(t *testing.T) {
	store := &memoryStore{failRead: true}
	dir := t.TempDir()
	target := filepath.Join(dir, "Chinook.db")

	if _, err := Download(context.Background(), store, "seed.db", target); err == nil {
		t.Fatal("expected copy error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, got %d entries", len(entries))
	}
}

type memoryStore struct {
	objects  map[string][]byte
	failRead bool
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ PutOptions) (ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return ObjectInfo{}, err
	}
	m.objects[key] = data
	return ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if m.failRead {
		return io.NopCloser(io.MultiReader(strings.NewReader("partial"), errReader{})), nil
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
