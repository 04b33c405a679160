package mailer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForKey(m *Mailer, want string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.config().PGPPublicKey == want {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestKeyWatcherReloadsKey(t *testing.T) {
	oldKey, _ := generateTestKey(t)
	newKey, _ := generateTestKey(t)

	path := filepath.Join(t.TempDir(), "cell.asc")
	if err := os.WriteFile(path, []byte(oldKey), 0o600); err != nil {
		t.Fatal(err)
	}

	m := New(&Config{To: []string{"cell@example.org"}, PGPPublicKey: oldKey})
	kw, err := NewKeyWatcher(m, path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewKeyWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		kw.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if err := os.WriteFile(path, []byte(newKey), 0o600); err != nil {
		t.Fatal(err)
	}
	if !waitForKey(m, newKey, 5*time.Second) {
		t.Fatal("rotated key was not picked up")
	}
	if got := m.config().To; len(got) != 1 || got[0] != "cell@example.org" {
		t.Errorf("reload lost the rest of the config: %v", got)
	}

	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if m.config().PGPPublicKey != newKey {
		t.Error("an unparsable key replaced the working one")
	}
}

func TestNewKeyWatcherMissingDirectory(t *testing.T) {
	m := New(&Config{})
	path := filepath.Join(t.TempDir(), "missing", "cell.asc")
	if _, err := NewKeyWatcher(m, path, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Error("expected an error for a directory that does not exist")
	}
}
