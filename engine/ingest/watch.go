package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/kbqa/kbqa/engine/domain"
)

// Watch re-ingests text files under dir whenever they are created or
// written, until ctx is cancelled. Subdirectories that exist at start or
// appear later are watched too. Failures are logged and do not stop the
// watch.
func (in *Ingester) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingest: watcher: %w", err)
	}
	defer w.Close()

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ingest: watch %s: %w", dir, err)
	}
	in.log.Info("ingest: watching", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.log.Warn("ingest: watcher error", "error", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			in.handleEvent(ctx, w, dir, ev)
		}
	}
}

func (in *Ingester) handleEvent(ctx context.Context, w *fsnotify.Watcher, root string, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if err := w.Add(ev.Name); err != nil {
			in.log.Warn("ingest: watch subdir", "dir", ev.Name, "error", err)
		}
		return
	}
	if !IsTextFile(ev.Name) {
		return
	}

	doc, err := LoadTextFile(root, ev.Name)
	if err != nil {
		in.log.Warn("ingest: reload failed", "path", ev.Name, "error", err)
		return
	}
	if _, err := in.Ingest(ctx, []domain.Document{doc}); err != nil {
		in.log.Error("ingest: re-ingest failed", "doc_id", doc.DocID, "error", err)
	}
}
