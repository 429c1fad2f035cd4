package artifacts

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Change describes one observed artifact mutation.
type Change struct {
	SkillID string
	Rel     string // Path relative to the skill dir
	Removed bool
}

// Watcher surfaces artifact files for a skill as they appear or change.
// Used by `forge status --watch` to show step outputs landing live.
type Watcher struct {
	skillID string
	dir     string
	fsw     *fsnotify.Watcher
	changes chan Change
	logger  *slog.Logger
}

// NewWatcher starts watching a skill's artifact tree. The skill dir is
// created if missing so watching a brand-new skill works.
func NewWatcher(store *FSStore, skillID string, logger *slog.Logger) (*Watcher, error) {
	dir := store.SkillDir(skillID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	// Watch existing subdirectories too; fsnotify is not recursive.
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != dir {
			fsw.Add(path)
		}
		return nil
	})

	return &Watcher{
		skillID: skillID,
		dir:     dir,
		fsw:     fsw,
		changes: make(chan Change, 16),
		logger:  logger,
	}, nil
}

// Changes returns the stream of observed artifact changes.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run pumps fsnotify events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.changes)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("artifact watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.dir, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}

	// New directories get added to the watch so files inside are seen.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.fsw.Add(ev.Name)
			return
		}
	}

	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	change := Change{
		SkillID: w.skillID,
		Rel:     rel,
		Removed: ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename),
	}
	select {
	case w.changes <- change:
	case <-ctx.Done():
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
