// Package inbox watches a drop folder laid out as <inbox>/<userID>/<file>
// and turns settled files into transport file events.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"autorename/internal/logging"
	"autorename/internal/transport"
)

// Ingester stores a local file and returns its transport file ID.
type Ingester interface {
	IngestFile(path string) (string, int64, error)
}

// Handler receives each ingested file.
type Handler func(ctx context.Context, ev transport.FileEvent) error

// DefaultSettle is how long a file must go without writes before it is
// picked up.
const DefaultSettle = 500 * time.Millisecond

// Watcher feeds files dropped into per-user folders to a Handler.
type Watcher struct {
	dir      string
	settle   time.Duration
	ingester Ingester
	handle   Handler
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
	done    chan struct{}
}

// New constructs a Watcher over dir.
func New(dir string, settle time.Duration, ingester Ingester, handle Handler, logger *slog.Logger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{
		dir:      dir,
		settle:   settle,
		ingester: ingester,
		handle:   handle,
		logger:   logging.NewComponentLogger(logger, "inbox"),
		pending:  make(map[string]*time.Timer),
		ready:    make(chan string, 64),
		done:     make(chan struct{}),
	}
}

// Run watches until ctx is cancelled. Files already present when Run starts
// are picked up after the settle delay. Run may be called once.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
		close(w.done)
		w.stopTimers()
	}()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch inbox %s: %w", w.dir, err)
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scan inbox: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			w.watchUser(watcher, filepath.Join(w.dir, entry.Name()))
		}
	}
	w.logger.Info("inbox watcher started",
		logging.String(logging.FieldEventType, "inbox_started"),
		logging.String("dir", w.dir),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-w.ready:
			w.process(ctx, path)
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher channel closed")
			}
			w.onEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			w.logger.Warn("fsnotify watcher error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "inbox_watch_error"),
			)
		}
	}
}

func (w *Watcher) onEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if filepath.Dir(event.Name) == filepath.Clean(w.dir) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watchUser(watcher, event.Name)
		}
		return
	}
	if _, ok := userOf(w.dir, event.Name); ok && !ignored(event.Name) {
		w.schedule(event.Name)
	}
}

// watchUser adds a numeric user folder and schedules the files inside it.
func (w *Watcher) watchUser(watcher *fsnotify.Watcher, dir string) {
	if _, err := strconv.ParseInt(filepath.Base(dir), 10, 64); err != nil {
		return
	}
	if err := watcher.Add(dir); err != nil {
		w.logger.Warn("watch user folder failed",
			logging.String("dir", dir),
			logging.Error(err),
			logging.String(logging.FieldEventType, "inbox_watch_error"),
		)
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && !ignored(entry.Name()) {
			w.schedule(filepath.Join(dir, entry.Name()))
		}
	}
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	userID, ok := userOf(w.dir, path)
	if !ok {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	logger := w.logger.With(logging.UserID(userID))
	fileID, size, err := w.ingester.IngestFile(path)
	if err != nil {
		logging.WarnWithContext(logger, "ingest inbox file failed", "inbox_ingest_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file left in the inbox"),
			logging.String(logging.FieldErrorHint, "check blob directory permissions and free space"),
		)
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debug("remove ingested inbox file", logging.Error(err))
	}
	ev := transport.FileEvent{
		UserID:   userID,
		ChatID:   transport.ChatID(userID),
		FileID:   fileID,
		FileName: filepath.Base(path),
		Kind:     KindFor(path),
		Size:     size,
	}
	logger.Info("inbox file received",
		logging.String(logging.FieldEventType, "inbox_file"),
		logging.String(logging.FieldFileID, fileID),
		logging.String("file_name", ev.FileName),
	)
	if err := w.handle(ctx, ev); err != nil {
		logger.Warn("inbox handler failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "inbox_handler_failed"),
			logging.String(logging.FieldErrorHint, "drop the file again once the service is ready"),
			logging.String(logging.FieldImpact, "file was ingested but not processed"),
		)
	}
}

// userOf extracts the user ID from <dir>/<userID>/<file>.
func userOf(dir, path string) (int64, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return 0, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ignored skips dotfiles and in-progress copies.
func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".part") || strings.HasSuffix(base, ".tmp")
}

var (
	videoExts = map[string]bool{".mkv": true, ".mp4": true, ".avi": true, ".webm": true, ".mov": true, ".m4v": true, ".ts": true}
	audioExts = map[string]bool{".mp3": true, ".flac": true, ".m4a": true, ".ogg": true, ".opus": true, ".wav": true, ".aac": true}
)

// KindFor guesses the media kind of a dropped file from its extension.
func KindFor(path string) transport.MediaKind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case videoExts[ext]:
		return transport.KindVideo
	case audioExts[ext]:
		return transport.KindAudio
	default:
		return transport.KindDocument
	}
}
