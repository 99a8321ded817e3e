package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

const DefaultDebounce = 500 * time.Millisecond

// Triggerer queues a tenant run without waiting for it.
type Triggerer interface {
	TriggerAsync(tenant domain.Tenant) error
}

type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

// QueueWatcher triggers a tenant run when files land in its queue area.
// Bursts of events for one tenant collapse into a single trigger.
type QueueWatcher struct {
	root     string
	trigger  Triggerer
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	mu     sync.Mutex
	timers map[domain.Tenant]*time.Timer
	closed bool
}

func New(root string, trigger Triggerer, opts Options) (*QueueWatcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "create queue watcher", err)
	}
	w := &QueueWatcher{
		root:     filepath.Clean(root),
		trigger:  trigger,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		watcher:  watcher,
		timers:   make(map[domain.Tenant]*time.Timer),
	}
	if err := w.addExisting(); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return w, nil
}

// Run dispatches filesystem events until ctx is cancelled.
func (w *QueueWatcher) Run(ctx context.Context) error {
	defer w.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("queue watcher error", "error", err)
		}
	}
}

func (w *QueueWatcher) addExisting() error {
	if err := w.watcher.Add(w.root); err != nil {
		return domain.WrapError(domain.ErrStorage, "watch storage root", err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "list storage root", err)
	}
	for _, entry := range entries {
		if entry.IsDir() && domain.IsValidTenant(entry.Name()) {
			w.addTenant(domain.Tenant(entry.Name()))
		}
	}
	return nil
}

func (w *QueueWatcher) addTenant(tenant domain.Tenant) {
	dir := filepath.Join(w.root, string(tenant))
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("watch tenant failed", "tenant", tenant, "error", err)
		return
	}
	queue := filepath.Join(dir, domain.QueueDirName)
	if info, err := os.Stat(queue); err == nil && info.IsDir() {
		if err := w.watcher.Add(queue); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("watch queue failed", "tenant", tenant, "error", err)
		}
	}
}

func (w *QueueWatcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch len(parts) {
	case 1:
		// tenant directory created
		if domain.IsValidTenant(parts[0]) && isDir(event.Name) {
			w.addTenant(domain.Tenant(parts[0]))
		}
	case 2:
		if parts[1] == domain.QueueDirName && domain.IsValidTenant(parts[0]) && isDir(event.Name) {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn("watch queue failed", "tenant", parts[0], "error", err)
				return
			}
			w.schedule(domain.Tenant(parts[0]))
		}
	case 3:
		if parts[1] != domain.QueueDirName || !domain.IsValidTenant(parts[0]) || strings.HasPrefix(parts[2], ".") {
			return
		}
		w.schedule(domain.Tenant(parts[0]))
	}
}

func (w *QueueWatcher) schedule(tenant domain.Tenant) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.timers[tenant]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[tenant] = time.AfterFunc(w.debounce, func() { w.fire(tenant) })
}

func (w *QueueWatcher) fire(tenant domain.Tenant) {
	w.mu.Lock()
	delete(w.timers, tenant)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	err := w.trigger.TriggerAsync(tenant)
	switch {
	case err == nil:
		w.logger.Debug("queue change triggered run", "tenant", tenant)
	case domain.IsKind(err, domain.ErrSchedulerStopped):
	default:
		w.logger.Warn("queue change trigger failed", "tenant", tenant, "error", err)
	}
}

func (w *QueueWatcher) close() {
	w.mu.Lock()
	w.closed = true
	for tenant, timer := range w.timers {
		timer.Stop()
		delete(w.timers, tenant)
	}
	w.mu.Unlock()
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("close queue watcher failed", "error", fmt.Errorf("fsnotify close: %w", err))
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
