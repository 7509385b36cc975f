package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/constellation/pkg/models"
)

// DefaultDebounce is how long a file must be quiet before it is re-read.
const DefaultDebounce = 250 * time.Millisecond

// Handler receives nodes whose ids the watcher has not delivered before.
type Handler func(ctx context.Context, nodes []*models.Node) error

// Watcher watches a directory for new or rewritten export files.
type Watcher struct {
	loader   *Loader
	handler  Handler
	seen     map[string]struct{}
	dir      string
	debounce time.Duration
	mu       sync.Mutex
}

// NewWatcher creates a watcher over dir.
func NewWatcher(dir string, loader *Loader, handler Handler) *Watcher {
	return &Watcher{
		dir:      dir,
		loader:   loader,
		handler:  handler,
		seen:     make(map[string]struct{}),
		debounce: DefaultDebounce,
	}
}

// SetDebounce changes the quiet period. Call before Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// MarkSeen records ids that were already delivered by other means, such as
// the initial replay.
func (w *Watcher) MarkSeen(ids ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range ids {
		w.seen[id] = struct{}{}
	}
}

// Run watches until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	log.Info().Str("dir", w.dir).Msg("Watching for export files")
	return w.loop(ctx, fsw.Events, fsw.Errors)
}

// loop debounces events per file and processes each file once it is quiet.
// It returns only after every debounce callback has exited.
func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	ctx, cancel := context.WithCancel(ctx)

	ready := make(chan string)
	timers := make(map[string]*time.Timer)
	var pending sync.WaitGroup
	defer func() {
		cancel()
		for _, t := range timers {
			if t.Stop() {
				pending.Done()
			}
		}
		pending.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("dir", w.dir).Msg("Stopping export watcher")
			return nil

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !IsExportFile(event.Name) {
				continue
			}

			path := event.Name
			if t, exists := timers[path]; exists && t.Stop() {
				pending.Done()
			}
			pending.Add(1)
			timers[path] = time.AfterFunc(w.debounce, func() {
				defer pending.Done()
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})

		case path := <-ready:
			delete(timers, path)
			w.process(ctx, path)

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	nodes, err := w.loader.LoadFile(path)
	if err != nil {
		// Usually a partially written file; the next write event retries.
		log.Warn().Err(err).Str("path", path).Msg("Failed to read export")
		return
	}

	fresh := w.filterUnseen(nodes)
	if len(fresh) == 0 {
		log.Debug().Str("path", path).Msg("No new nodes in export")
		return
	}

	log.Info().Str("path", path).Int("nodes", len(fresh)).Msg("New nodes in export")

	if err := w.handler(ctx, fresh); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to handle new nodes")
	}
}

func (w *Watcher) filterUnseen(nodes []*models.Node) []*models.Node {
	w.mu.Lock()
	defer w.mu.Unlock()

	fresh := make([]*models.Node, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := w.seen[n.ID]; ok {
			continue
		}
		w.seen[n.ID] = struct{}{}
		fresh = append(fresh, n)
	}
	return fresh
}
