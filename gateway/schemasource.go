package gateway

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchSchemaFiles watches every configured subgraph schema file for
// changes and calls Reload whenever one is written, following the
// single-writer/many-reader hot-reload pattern the rest of the gateway
// already uses for request serving. It blocks until ctx is cancelled, so
// callers run it in its own goroutine.
func (g *gateway) WatchSchemaFiles(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, s := range g.services {
		for _, f := range s.SchemaFiles {
			if err := watcher.Add(f); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := g.Reload(); err != nil {
				slog.Error("supergraph reload failed", "file", event.Name, "error", err)
				continue
			}
			slog.Info("supergraph reloaded", "file", event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("schema file watch error", "error", err)
		}
	}
}
