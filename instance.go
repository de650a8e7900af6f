// Provides the in-memory state of an instance and its on-disk transitions.

package deeb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/maruel/deeb/document"
	"github.com/maruel/deeb/internal/index"
	"github.com/maruel/deeb/internal/storage"
)

// table is the document table of one entity. A published table is never
// mutated; writers clone it first.
type table struct {
	entity *Entity
	docs   []*document.Document
	pos    map[string]int
	idx    *index.Set
}

func newTable(e *Entity, docs []*document.Document) (*table, error) {
	t := &table{entity: e, docs: docs, pos: make(map[string]int, len(docs))}
	for i, d := range docs {
		pk, ok := index.PrimaryKey(d, e.pk())
		if !ok {
			return nil, fmt.Errorf("%w: entity %q: document %d lacks %q", ErrInvalidDocument, e.Name, i, e.pk())
		}
		if _, dup := t.pos[pk]; dup {
			v, _ := d.Get(e.pk())
			return nil, fmt.Errorf("%w: entity %q: duplicate %s %s", ErrNotUnique, e.Name, e.pk(), v)
		}
		t.pos[pk] = i
	}
	idx, err := index.BuildSet(e.indexSpecs(), e.pk(), docs)
	if err != nil {
		return nil, classify(fmt.Errorf("entity %q: %w", e.Name, err))
	}
	t.idx = idx
	return t, nil
}

func (t *table) clone() *table {
	return &table{entity: t.entity, docs: slices.Clone(t.docs), pos: maps.Clone(t.pos), idx: t.idx.Clone()}
}

// state is an immutable snapshot of an instance.
type state struct {
	// names is the entity order of the file.
	names  []string
	tables map[string]*table
	// extra holds entities found in the file but not declared, written back
	// unchanged.
	extra map[string][]*document.Document
	// stat identifies the file last written or read, to tell our own writes
	// from external edits.
	stat fileStat
}

type fileStat struct {
	size    int64
	modTime time.Time
}

func (f fileStat) equal(o fileStat) bool {
	return f.size == o.size && f.modTime.Equal(o.modTime)
}

func statFile(path string) fileStat {
	fi, err := os.Stat(path)
	if err != nil {
		return fileStat{}
	}
	return fileStat{size: fi.Size(), modTime: fi.ModTime()}
}

func newState(entities []*Entity, snap *storage.Snapshot) (*state, error) {
	s := &state{
		names:  slices.Clone(snap.Names),
		tables: make(map[string]*table, len(entities)),
		extra:  map[string][]*document.Document{},
	}
	for _, e := range entities {
		docs := snap.Tables[e.Name]
		if docs == nil {
			docs = []*document.Document{}
			s.names = append(s.names, e.Name)
		}
		t, err := newTable(e, docs)
		if err != nil {
			return nil, err
		}
		s.tables[e.Name] = t
	}
	for name, docs := range snap.Tables {
		if _, ok := s.tables[name]; !ok {
			s.extra[name] = docs
		}
	}
	return s, nil
}

func (s *state) snapshot() *storage.Snapshot {
	snap := storage.NewSnapshot()
	for _, name := range s.names {
		if t, ok := s.tables[name]; ok {
			snap.Set(name, t.docs)
		} else {
			snap.Set(name, s.extra[name])
		}
	}
	return snap
}

// instance is one registered file.
type instance struct {
	name     string
	path     string
	entities []*Entity
	lock     *storage.Lock
	cur      atomic.Pointer[state]
	log      *slog.Logger
}

// openInstance loads path and builds every table and index. A missing file
// is created empty; an unreadable or malformed one is an error and is left
// untouched.
//
// The writer lock is held throughout so shadow files of a writer in another
// process are not removed while in flight.
func openInstance(ctx context.Context, opts *Options, name, path string, entities []*Entity) (*instance, error) {
	inst := &instance{
		name:     name,
		path:     path,
		entities: entities,
		lock:     storage.NewLock(path),
		log:      opts.logger().With("instance", name),
	}
	release, err := inst.lock.Acquire(ctx, opts.lockTimeout())
	if err != nil {
		return nil, classify(err)
	}
	defer release()
	if removed, err := storage.RemoveShadows(path); err != nil {
		inst.log.WarnContext(ctx, "Failed to remove stale shadow files", "err", err)
	} else if len(removed) > 0 {
		inst.log.WarnContext(ctx, "Removed shadow files of an interrupted write", "files", removed)
	}
	_, statErr := os.Stat(path)
	missing := errors.Is(statErr, os.ErrNotExist)
	s, err := inst.load()
	if err != nil {
		return nil, err
	}
	if missing {
		if err := inst.persist(s, opts.Indent); err != nil {
			return nil, err
		}
	}
	inst.cur.Store(s)
	inst.log.DebugContext(ctx, "Opened instance", "lock", inst.lock.Path())
	return inst, nil
}

func (inst *instance) load() (*state, error) {
	snap, err := storage.Load(inst.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDurability, err)
	}
	s, err := newState(inst.entities, snap)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDurability, inst.path, err)
	}
	s.stat = statFile(inst.path)
	return s, nil
}

// persist durably writes s and records the resulting file stat into it. The
// caller holds the writer lock.
func (inst *instance) persist(s *state, indent bool) error {
	snap := s.snapshot()
	err := storage.WriteAtomic(inst.path, func(w io.Writer) error { return snap.Encode(w, indent) })
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDurability, inst.path, err)
	}
	s.stat = statFile(inst.path)
	return nil
}

func (inst *instance) entity(name string) (*Entity, bool) {
	for _, e := range inst.entities {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// working is a copy-on-write view over a state used to apply mutations.
type working struct {
	base   *state
	tables map[string]*table
}

func newWorking(base *state) *working {
	return &working{base: base, tables: map[string]*table{}}
}

func (w *working) table(name string) *table {
	if t, ok := w.tables[name]; ok {
		return t
	}
	return w.base.tables[name]
}

// state returns a new state with the modified tables.
func (w *working) state() *state {
	if len(w.tables) == 0 {
		return w.base
	}
	s := &state{
		names:  w.base.names,
		tables: maps.Clone(w.base.tables),
		extra:  w.base.extra,
		stat:   w.base.stat,
	}
	maps.Copy(s.tables, w.tables)
	return s
}
