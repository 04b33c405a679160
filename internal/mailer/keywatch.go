package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/fsnotify/fsnotify"
)

// KeyWatcher reloads the PGP public key when its file changes, so the cell's
// key can be rotated without a restart.
type KeyWatcher struct {
	mailer  *Mailer
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewKeyWatcher starts watching the directory holding path. Watching the
// directory catches editors and tools that replace the file by rename.
func NewKeyWatcher(m *Mailer, path string, logger *slog.Logger) (*KeyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("key watcher: %w", err)
	}
	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return &KeyWatcher{mailer: m, path: path, watcher: w, logger: logger}, nil
}

// Run handles file events until ctx is cancelled. A key that does not parse
// is logged and the previous key stays in use.
func (kw *KeyWatcher) Run(ctx context.Context) {
	defer kw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-kw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != kw.path || evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := kw.reload(); err != nil {
				kw.logger.Warn("keeping previous PGP public key", "path", kw.path, "err", err)
				continue
			}
			kw.logger.Info("PGP public key reloaded", "path", kw.path)
		case err, ok := <-kw.watcher.Errors:
			if !ok {
				return
			}
			kw.logger.Warn("key watcher error", "err", err)
		}
	}
}

func (kw *KeyWatcher) reload() error {
	b, err := os.ReadFile(kw.path)
	if err != nil {
		return fmt.Errorf("read PGP public key: %w", err)
	}
	if _, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(b)); err != nil {
		return fmt.Errorf("parse PGP public key: %w", err)
	}

	cfg := *kw.mailer.config()
	cfg.PGPPublicKey = string(b)
	kw.mailer.Reconfigure(&cfg)
	return nil
}
