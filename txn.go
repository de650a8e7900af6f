// Provides transactions: staged mutations committed atomically per instance.

package deeb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/maruel/deeb/document"
	"github.com/maruel/ksid"
)

// TxState is the life cycle stage of a transaction.
type TxState int32

// Transaction states. Committed and RolledBack are terminal.
const (
	TxOpen TxState = iota
	TxCommitting
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxOpen:
		return "open"
	case TxCommitting:
		return "committing"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return fmt.Sprintf("TxState(%d)", int32(s))
	}
}

// Tx is an ordered list of staged mutations.
//
// Each staged operation is first applied to a private preview of the
// instances it touches, so errors such as ErrNotFound surface when staging:
// the offending operation is rejected and the transaction stays open. Reads
// through the transaction observe its preview. Nothing is visible to other
// readers until Commit, which replays every operation against the latest
// committed state under each instance's writer lock.
//
// A Tx must not be used concurrently.
type Tx struct {
	db *Deeb
	id ksid.ID

	mu       sync.Mutex
	state    TxState
	ops      []*op
	previews map[*instance]*working
}

// Begin starts a transaction. Instances are bound lazily as operations are
// staged against them.
func (db *Deeb) Begin() *Tx {
	return &Tx{db: db, id: ksid.NewID(), previews: map[*instance]*working{}}
}

// ID identifies the transaction in logs and events.
func (tx *Tx) ID() string { return tx.id.String() }

// State returns the current state.
func (tx *Tx) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Len returns the number of staged operations.
func (tx *Tx) Len() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.ops)
}

// stage applies o to the preview and appends it on success.
func (tx *Tx) stage(ctx context.Context, o *op) ([]*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxOpen {
		return nil, ErrTxDone
	}
	w := tx.previews[o.inst]
	if w == nil {
		w = newWorking(o.inst.cur.Load())
	}
	out, _, err := o.apply(w, tx.readerLocked())
	if err != nil {
		tx.db.log.DebugContext(ctx, "Rejected staged operation", "tx", tx.ID(), "op", o.kind.String(), "entity", o.entity.Name, "err", err)
		return nil, err
	}
	tx.previews[o.inst] = w
	tx.ops = append(tx.ops, o)
	return cloneDocs(out), nil
}

// readerLocked reads through the previews.
func (tx *Tx) readerLocked() reader {
	return func(entity string) (*table, error) {
		inst, _, err := tx.db.resolve(entity)
		if err != nil {
			return nil, err
		}
		if w, ok := tx.previews[inst]; ok {
			return w.table(entity), nil
		}
		return inst.cur.Load().tables[entity], nil
	}
}

func (tx *Tx) read(fn func(read reader) error) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxOpen {
		return ErrTxDone
	}
	return fn(tx.readerLocked())
}

// Rollback discards every staged operation. No instance is touched. Rolling
// back twice is a no-op; rolling back a committed transaction returns
// ErrTxDone.
func (tx *Tx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	switch tx.state {
	case TxRolledBack:
		return nil
	case TxOpen:
		tx.state = TxRolledBack
		tx.ops = nil
		clear(tx.previews)
		return nil
	default:
		return ErrTxDone
	}
}

// Commit applies the staged operations, one instance at a time in order of
// first use, and persists each instance's new state durably.
//
// If an instance fails, the transaction is rolled back for it and every later
// instance; earlier instances keep their committed state and are listed in
// the returned *CommitError.
func (tx *Tx) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxOpen {
		return ErrTxDone
	}
	tx.state = TxCommitting
	var order []*instance
	byInst := map[*instance][]*op{}
	for _, o := range tx.ops {
		if _, ok := byInst[o.inst]; !ok {
			order = append(order, o.inst)
		}
		byInst[o.inst] = append(byInst[o.inst], o)
	}
	var persisted []string
	var changes []change
	for _, inst := range order {
		c, wrote, err := tx.commitInstance(ctx, inst, byInst[inst])
		if err != nil {
			tx.state = TxRolledBack
			tx.ops = nil
			clear(tx.previews)
			inst.log.WarnContext(ctx, "Commit failed", "tx", tx.ID(), "persisted", persisted, "err", err)
			return &CommitError{Instance: inst.name, Persisted: persisted, Err: classify(err)}
		}
		if wrote {
			persisted = append(persisted, inst.name)
		}
		changes = append(changes, c...)
	}
	tx.state = TxCommitted
	tx.ops = nil
	clear(tx.previews)
	tx.db.broker.publish(ctx, tx.ID(), changes)
	return nil
}

// commitInstance applies ops to inst and reports whether its file was
// written.
func (tx *Tx) commitInstance(ctx context.Context, inst *instance, ops []*op) ([]change, bool, error) {
	release, err := inst.lock.Acquire(ctx, tx.db.opts.lockTimeout())
	if err != nil {
		return nil, false, err
	}
	defer release()
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	w := newWorking(inst.cur.Load())
	read := func(entity string) (*table, error) {
		if _, ok := inst.entity(entity); ok {
			return w.table(entity), nil
		}
		return tx.db.committed(entity)
	}
	var changes []change
	for _, o := range ops {
		out, c, err := o.apply(w, read)
		if err != nil {
			return nil, false, fmt.Errorf("%s %q: %w", o.kind, o.entity.Name, err)
		}
		o.results = out
		changes = append(changes, c...)
	}
	if len(w.tables) == 0 {
		inst.log.DebugContext(ctx, "Commit changed nothing", "tx", tx.ID())
		return nil, false, nil
	}
	s := w.state()
	if err := inst.persist(s, tx.db.opts.Indent); err != nil {
		return nil, false, err
	}
	inst.cur.Store(s)
	inst.log.DebugContext(ctx, "Committed", "tx", tx.ID(), "ops", len(ops), "changes", len(changes))
	if h := tx.db.opts.History; h != nil {
		if err := h.Record(ctx, inst.path, commitMessage(tx.ID(), ops)); err != nil {
			inst.log.WarnContext(ctx, "Failed to record history", "tx", tx.ID(), "err", err)
		}
	}
	return changes, true, nil
}

// commitMessage summarizes ops, e.g. "insert user (2), update user (1)".
func commitMessage(id string, ops []*op) string {
	type key struct {
		kind   opKind
		entity string
	}
	var keys []key
	counts := map[key]int{}
	for _, o := range ops {
		k := key{o.kind, o.entity.Name}
		if _, ok := counts[k]; !ok {
			keys = append(keys, k)
		}
		counts[k] += max(len(o.results), 1)
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %s (%d)", k.kind, k.entity, counts[k])
	}
	return strings.Join(parts, ", ") + "\n\ntx " + id
}

// run commits o in its own transaction and returns the committed results.
func (db *Deeb) run(ctx context.Context, o *op) ([]*document.Document, error) {
	tx := db.Begin()
	tx.ops = []*op{o}
	if err := tx.Commit(ctx); err != nil {
		var ce *CommitError
		if errors.As(err, &ce) {
			return nil, ce.Err
		}
		return nil, err
	}
	return cloneDocs(o.results), nil
}

func cloneDocs(docs []*document.Document) []*document.Document {
	if docs == nil {
		return nil
	}
	out := make([]*document.Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return slices.Clip(out)
}
