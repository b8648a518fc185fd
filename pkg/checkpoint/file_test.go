package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/courtdata/nba-backfill/pkg/backfill"
)

func TestNewFileStore_Validation(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Error("NewFileStore(\"\") should return error")
	}
}

func TestFileStore_ReadNotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	_, err = store.Read(context.Background(), "2023-24/checkpoint.json")
	if !errors.Is(err, backfill.ErrCheckpointNotFound) {
		t.Errorf("Read() error = %v, want ErrCheckpointNotFound", err)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	payload := []byte(`{"run_id": "abc", "season": "2023-24"}`)
	path := "2023-24/checkpoint.json"

	if err := store.Write(ctx, path, payload); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := store.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Read() = %q, want %q", got, payload)
	}

	// Overwrite must fully replace the previous blob.
	shorter := []byte(`{"run_id": "abc"}`)
	if err := store.Write(ctx, path, shorter); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}
	got, err = store.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() after overwrite error = %v", err)
	}
	if string(got) != string(shorter) {
		t.Errorf("Read() after overwrite = %q, want %q", got, shorter)
	}
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if err := store.Write(context.Background(), "2023-24/checkpoint.json", []byte("{}")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "2023-24"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".checkpoint-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
