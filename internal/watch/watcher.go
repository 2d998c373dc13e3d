// Package watch observes a downloads directory for arriving archives, lists
// each one with an external tool, reports the outcome and deletes the file.
//
// Scans run on a single worker goroutine per Watcher. Change notifications
// that arrive while a scan is in flight collapse into one pending scan.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/chaz8081/testopp/internal/archive"
)

// Notifier is the outbound notification boundary.
type Notifier interface {
	Message(text string)
}

// Options configures a Watcher.
type Options struct {
	Dir     string
	Pattern string        // doublestar glob matched against file names
	Settle  time.Duration // quiet period after a change before scanning
}

// Watcher processes candidate archives in one directory.
type Watcher struct {
	opts   Options
	lister archive.Lister
	notes  Notifier
	remove func(string) error

	kick chan struct{}

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	settle  *time.Timer
	skipped map[string]digest // files we could not remove, by content
}

// New creates a Watcher. Call Start to begin watching.
// Panics if lister or notes is nil (programmer error).
func New(opts Options, lister archive.Lister, notes Notifier) *Watcher {
	if lister == nil || notes == nil {
		panic("watch: New called with nil lister or notifier")
	}
	if opts.Pattern == "" {
		opts.Pattern = "*.zip"
	}
	return &Watcher{
		opts:    opts,
		lister:  lister,
		notes:   notes,
		remove:  os.Remove,
		kick:    make(chan struct{}, 1),
		skipped: make(map[string]digest),
	}
}

// Start subscribes to filesystem notifications for the directory and starts
// the scan worker. Files already present are not processed until the first
// change or an explicit Rescan.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return errors.New("watch: already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	if err := fsw.Add(w.opts.Dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch: add %s: %w", w.opts.Dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.pump(ctx, fsw)
	}()
	go func() {
		defer w.wg.Done()
		w.worker(ctx)
	}()

	slog.Info("[WATCH] watching", "dir", w.opts.Dir, "pattern", w.opts.Pattern)
	return nil
}

// pump turns fsnotify events into debounced scan requests.
func (w *Watcher) pump(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Remove {
				continue
			}
			slog.Debug("[WATCH] fs event", "op", ev.Op.String(), "name", ev.Name)
			w.debounce()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("[WATCH] watcher error", "error", err)
		}
	}
}

func (w *Watcher) debounce() {
	if w.opts.Settle <= 0 {
		w.OnDirectoryChanged(w.opts.Dir)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.settle != nil {
		w.settle.Stop()
	}
	w.settle = time.AfterFunc(w.opts.Settle, func() {
		w.OnDirectoryChanged(w.opts.Dir)
	})
}

// OnDirectoryChanged requests a scan of path, which must be the watched
// directory. It never blocks: if a scan is already pending, the request is
// merged into it.
func (w *Watcher) OnDirectoryChanged(path string) {
	if filepath.Clean(path) != filepath.Clean(w.opts.Dir) {
		slog.Debug("[WATCH] change for unwatched path ignored", "path", path)
		return
	}
	w.Rescan()
}

// Rescan requests a scan of the watched directory.
func (w *Watcher) Rescan() {
	select {
	case w.kick <- struct{}{}:
	default: // a scan is already pending
	}
}

func (w *Watcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			w.scan(ctx)
		}
	}
}

// scan processes every current candidate, newest first.
func (w *Watcher) scan(ctx context.Context) {
	batch := uuid.NewString()
	log := slog.With("batch", batch)

	candidates, err := ListCandidates(w.opts.Dir, w.opts.Pattern)
	if err != nil {
		log.Error("[WATCH] listing directory failed", "error", err)
		return
	}
	log.Debug("[WATCH] scan", "candidates", len(candidates))

	for _, c := range candidates {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, log, c)
	}
}

func (w *Watcher) process(ctx context.Context, log *slog.Logger, c Candidate) {
	sum, err := fileDigest(c.Path)
	if err != nil {
		log.Warn("[WATCH] digest failed", "file", c.Name, "error", err)
	}
	if w.alreadySkipped(c.Path, sum) {
		log.Debug("[WATCH] unchanged file left from earlier scan", "file", c.Name)
		return
	}

	w.notes.Message("Received file " + c.Name)

	out, err := w.lister.List(ctx, c.Path)
	if err != nil {
		log.Error("[WATCH] listing archive failed", "file", c.Name, "error", err)
		w.notes.Message(fmt.Sprintf("Error listing file %s: %v", c.Name, err))
	} else {
		w.notes.Message(out)
	}

	if err := w.remove(c.Path); err != nil {
		log.Error("[WATCH] remove failed", "file", c.Name, "error", err)
		w.notes.Message("Error removing file " + c.Name)
		w.mu.Lock()
		w.skipped[c.Path] = sum
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	delete(w.skipped, c.Path)
	w.mu.Unlock()
	log.Info("[WATCH] processed", "file", c.Name)
	w.notes.Message("Processed file " + c.Name)
}

// alreadySkipped reports whether path was announced before, could not be
// removed, and still has the same contents.
func (w *Watcher) alreadySkipped(path string, sum digest) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok := w.skipped[path]
	return ok && prev == sum
}

// Close stops the watcher and waits for an in-flight scan to finish.
// Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	cancel, fsw := w.cancel, w.fsw
	w.cancel, w.fsw = nil, nil
	if w.settle != nil {
		w.settle.Stop()
	}
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := fsw.Close()
	w.wg.Wait()
	slog.Info("[WATCH] stopped", "dir", w.opts.Dir)
	return err
}
