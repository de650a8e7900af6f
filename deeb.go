// Package deeb is an embeddable document database persisting each instance as
// one human-editable JSON file.
//
// An instance file maps entity names to lists of documents:
//
//	{
//	  "user": [
//	    {"_id": "0b3kq8xw2rd", "_created_at": "2024-05-01T10:00:00Z", "name": "Joey"}
//	  ]
//	}
//
// Every commit rewrites the whole file through a synced shadow file that
// atomically replaces it, so a crash leaves either the previous or the new
// content. Indexes live in memory and are rebuilt on load.
//
// Readers see the last committed snapshot of each instance without locking.
// Writers of one instance are serialized by an in-process semaphore and an
// advisory file lock. A transaction spanning several instances is atomic per
// instance only: see [CommitError].
package deeb

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
)

// Deeb is a set of registered instances. It is safe for concurrent use.
type Deeb struct {
	opts Options
	log  *slog.Logger

	mu        sync.RWMutex
	instances map[string]*instance
	// owners maps an entity name to the instance declaring it.
	owners map[string]*instance

	broker broker
}

// New returns an empty database. opts may be nil.
func New(opts *Options) *Deeb {
	db := &Deeb{instances: map[string]*instance{}, owners: map[string]*instance{}}
	if opts != nil {
		db.opts = *opts
	}
	db.log = db.opts.logger()
	db.broker.log = db.log
	return db
}

// Register loads the instance file at path, creating it when missing, and
// makes its entities available.
//
// Registering the same name with the same path again is a no-op; with a
// different path it fails with ErrConfiguration, as does declaring an entity
// already owned by another instance. A malformed file fails with
// ErrDurability and is left untouched.
func (db *Deeb) Register(ctx context.Context, name, path string, entities ...*Entity) error {
	if name == "" {
		return fmt.Errorf("%w: instance without a name", ErrConfiguration)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	var names []string
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return err
		}
		if slices.Contains(names, e.Name) {
			return fmt.Errorf("%w: entity %q declared twice in instance %q", ErrConfiguration, e.Name, name)
		}
		names = append(names, e.Name)
	}
	if done, err := db.checkRegister(name, abs, names); done || err != nil {
		return err
	}

	inst, err := openInstance(ctx, &db.opts, name, abs, entities)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if done, err := db.checkRegisterLocked(name, abs, names); done || err != nil {
		return err
	}
	db.instances[name] = inst
	for _, n := range names {
		db.owners[n] = inst
	}
	s := inst.cur.Load()
	counts := make([]any, 0, 2*len(names))
	for _, n := range names {
		counts = append(counts, n, len(s.tables[n].docs))
	}
	db.log.InfoContext(ctx, "Registered instance", "instance", name, "path", abs, slog.Group("documents", counts...))
	return nil
}

func (db *Deeb) checkRegister(name, path string, entities []string) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.checkRegisterLocked(name, path, entities)
}

// checkRegisterLocked reports whether name is already registered at path.
func (db *Deeb) checkRegisterLocked(name, path string, entities []string) (bool, error) {
	if inst, ok := db.instances[name]; ok {
		if inst.path != path {
			return false, fmt.Errorf("%w: instance %q is already registered at %s", ErrConfiguration, name, inst.path)
		}
		return true, nil
	}
	for _, inst := range db.instances {
		if inst.path == path {
			return false, fmt.Errorf("%w: %s is already registered as instance %q", ErrConfiguration, path, inst.name)
		}
	}
	for _, e := range entities {
		if owner, ok := db.owners[e]; ok {
			return false, fmt.Errorf("%w: entity %q already belongs to instance %q", ErrConfiguration, e, owner.name)
		}
	}
	return false, nil
}

// Instances returns the registered instance names, sorted.
func (db *Deeb) Instances() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]string, 0, len(db.instances))
	for name := range db.instances {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Entities returns the entities declared by an instance.
func (db *Deeb) Entities(instance string) ([]*Entity, error) {
	inst, err := db.instance(instance)
	if err != nil {
		return nil, err
	}
	return slices.Clone(inst.entities), nil
}

// Entity returns the registered declaration of an entity.
func (db *Deeb) Entity(name string) (*Entity, bool) {
	inst, e, err := db.resolve(name)
	if err != nil || inst == nil {
		return nil, false
	}
	return e, true
}

// Path returns the file backing an instance.
func (db *Deeb) Path(instance string) (string, error) {
	inst, err := db.instance(instance)
	if err != nil {
		return "", err
	}
	return inst.path, nil
}

func (db *Deeb) instance(name string) (*instance, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	inst, ok := db.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: instance %q is not registered", ErrConfiguration, name)
	}
	return inst, nil
}

// resolve returns the instance owning an entity and the registered
// declaration, which may carry more than the caller's reference.
func (db *Deeb) resolve(entity string) (*instance, *Entity, error) {
	db.mu.RLock()
	inst, ok := db.owners[entity]
	db.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: entity %q is not registered", ErrConfiguration, entity)
	}
	e, _ := inst.entity(entity)
	return inst, e, nil
}

// committed reads the last committed tables.
func (db *Deeb) committed(entity string) (*table, error) {
	inst, _, err := db.resolve(entity)
	if err != nil {
		return nil, err
	}
	return inst.cur.Load().tables[entity], nil
}
