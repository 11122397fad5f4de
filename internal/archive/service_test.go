package archive

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"tillbook/api/internal/backup"
	"tillbook/api/internal/store"
)

func payloadWithUnits(names ...string) backup.Normalized {
	s := store.NewSnapshot()
	for i, name := range names {
		s[store.Units] = append(s[store.Units], store.Document{"id": "uni-" + string(rune('a'+i)), "name": name})
	}
	return backup.FromSnapshot(s)
}

func TestArchiveLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	history, err := svc.History("user-1", 10)
	if err != nil {
		t.Fatalf("History() on empty archive error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %v", history)
	}

	first, err := svc.Commit("user-1", payloadWithUnits("kg"), "Before restore")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "user-1", backupFile)); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}
	second, err := svc.Commit("user-1", payloadWithUnits("kg", "litre"), "Before second restore")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if first.Hash == second.Hash {
		t.Fatal("expected distinct commits")
	}

	history, err = svc.History("user-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Hash != second.Hash || history[1].Message != "Before restore" {
		t.Fatalf("unexpected history %+v", history)
	}

	limited, err := svc.History("user-1", 1)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(limited))
	}

	old, err := svc.Get("user-1", first.Hash)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(old.Units) != 1 || old.Units[0]["name"] != "kg" {
		t.Fatalf("unexpected archived payload %+v", old.Units)
	}
}

func TestIdenticalPayloadStillCommits(t *testing.T) {
	svc := New(t.TempDir())
	payload := payloadWithUnits("kg")
	if _, err := svc.Commit("user-1", payload, "one"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := svc.Commit("user-1", payload, "two"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	history, err := svc.History("user-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
}

func TestGetWithoutArchive(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.Get("nobody", "abc1234"); err != ErrNoHistory {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestGetUnknownHash(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.Commit("user-1", payloadWithUnits("kg"), "one"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	for _, hash := range []string{"deadbee", "0123456789abcdef0123456789abcdef01234567"} {
		if _, err := svc.Get("user-1", hash); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%s): expected ErrNotFound, got %v", hash, err)
		}
	}
}

func TestUsersAreIsolated(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	if _, err := svc.Commit("../escape", payloadWithUnits("kg"), "one"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(tempDir), "escape")); err == nil {
		t.Fatal("user id must not escape the archive directory")
	}
	history, err := svc.History("other", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history for another user, got %v", history)
	}
	if _, err := svc.Commit("...", payloadWithUnits("kg"), "bad"); err == nil {
		t.Fatal("expected an error for an unusable user id")
	}
}

func TestConcurrentCommitsSameUser(t *testing.T) {
	svc := New(t.TempDir())
	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Commit("user-1", payloadWithUnits("kg"), "parallel")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}
	history, err := svc.History("user-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(history))
	}
}
