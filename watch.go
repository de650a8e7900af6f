// Provides reloading of instance files edited outside the process.

package deeb

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Reload rereads an instance file if it changed since it was last loaded or
// written by this process. It reports whether the in-memory state was
// replaced.
//
// A file that fails to load is an ErrDurability error and the current state
// is kept.
func (db *Deeb) Reload(ctx context.Context, name string) (bool, error) {
	inst, err := db.instance(name)
	if err != nil {
		return false, err
	}
	return db.reload(ctx, inst)
}

func (db *Deeb) reload(ctx context.Context, inst *instance) (bool, error) {
	release, err := inst.lock.Acquire(ctx, db.opts.lockTimeout())
	if err != nil {
		return false, classify(err)
	}
	defer release()
	if statFile(inst.path).equal(inst.cur.Load().stat) {
		return false, nil
	}
	s, err := inst.load()
	if err != nil {
		return false, err
	}
	inst.cur.Store(s)
	inst.log.InfoContext(ctx, "Reloaded instance")
	return true, nil
}

// Watch reloads instances when their file is modified by another process,
// until ctx is done. Writes done by this process are recognized and skipped.
// A malformed edit is logged and ignored until the file is fixed.
//
// Instances registered after Watch started are not watched.
func (db *Deeb) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	byPath := map[string]*instance{}
	db.mu.RLock()
	for _, inst := range db.instances {
		byPath[inst.path] = inst
	}
	db.mu.RUnlock()
	if len(byPath) == 0 {
		return fmt.Errorf("%w: no instance to watch", ErrConfiguration)
	}
	// Directories are watched since each persist replaces the file.
	dirs := map[string]bool{}
	for p := range byPath {
		d := filepath.Dir(p)
		if dirs[d] {
			continue
		}
		if err := w.Add(d); err != nil {
			return err
		}
		dirs[d] = true
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			inst := byPath[filepath.Clean(event.Name)]
			if inst == nil || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if _, err := db.reload(ctx, inst); err != nil {
				inst.log.WarnContext(ctx, "Failed to reload instance", "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			db.log.WarnContext(ctx, "Error watching instance files", "err", err)
		}
	}
}
