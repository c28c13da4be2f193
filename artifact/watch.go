package artifact

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/syssam/warden/policy"
	"github.com/syssam/warden/schema"
)

// Watch reloads the definition at path whenever the file changes and
// reports each rebuild through fn. A failed reload passes the error to fn
// with nil graph and table, and watching continues. Watch blocks until ctx
// is canceled or the watcher fails.
//
// The parent directory is watched rather than the file itself, so
// atomic-rename deploys (write temp file, rename over) are picked up.
func Watch(ctx context.Context, path string, fn func(*schema.Graph, *policy.Table, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			def, err := LoadFile(path)
			if err != nil {
				fn(nil, nil, err)
				continue
			}
			g, table, err := def.Build()
			if err != nil {
				fn(nil, nil, err)
				continue
			}
			fn(g, table, nil)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
