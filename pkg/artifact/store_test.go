package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testArtifact(t *testing.T, payload string) *Artifact {
	t.Helper()
	a := New("softmax", []byte(payload), 2, []string{"steps", "sleep_minutes"}, map[string]float64{"macro_f1": 0.91})
	if a.Metadata.ID == "" {
		t.Fatal("artifact has no ID")
	}
	return a
}

func TestFileStorePutGet(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	a := testArtifact(t, `{"algorithm":"softmax","payload":{}}`)
	if err := store.Put(context.Background(), a); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(context.Background(), a.Metadata.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Model) != string(a.Model) {
		t.Error("model bytes changed across store round trip")
	}
	if got.Metadata.SchemaVersion != 2 {
		t.Errorf("schema version = %d, want 2", got.Metadata.SchemaVersion)
	}
	if got.Metadata.ModelHash != a.Metadata.ModelHash {
		t.Error("hash changed across store round trip")
	}
}

func TestFileStoreGetUnknown(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Get(context.Background(), "no-such-artifact"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFileStoreDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	a := testArtifact(t, `original model bytes`)
	if err := store.Put(context.Background(), a); err != nil {
		t.Fatalf("Put: %v", err)
	}

	path := filepath.Join(dir, a.Metadata.ID+".model")
	if err := os.WriteFile(path, []byte(`tampered model bytes!`), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := store.Get(context.Background(), a.Metadata.ID); err == nil {
		t.Fatal("expected hash mismatch error for tampered model file")
	}
}

func TestFileStoreReindexesOnReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	a := testArtifact(t, `persisted across restarts`)
	if err := store.Put(context.Background(), a); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reopened, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(context.Background(), a.Metadata.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Metadata.Algorithm != "softmax" {
		t.Errorf("algorithm = %s, want softmax", got.Metadata.Algorithm)
	}
}

func TestFileStoreListNewestFirst(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	older := testArtifact(t, `older`)
	older.Metadata.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := testArtifact(t, `newer`)
	newer.Metadata.CreatedAt = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, a := range []*Artifact{older, newer} {
		if err := store.Put(context.Background(), a); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("listed %d artifacts, want 2", len(list))
	}
	if !list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Errorf("list not newest-first: %v then %v", list[0].CreatedAt, list[1].CreatedAt)
	}
}
