package deeb

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/maruel/deeb/internal/storage"
)

// Backup writes a zstd compressed copy of the committed state of an
// instance to w. It does not block writers.
func (db *Deeb) Backup(ctx context.Context, instance string, w io.Writer) error {
	inst, err := db.instance(instance)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := inst.cur.Load().snapshot()
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if err := snap.Encode(zw, false); err != nil {
		_ = zw.Close()
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	inst.log.DebugContext(ctx, "Backed up instance")
	return nil
}

// Restore replaces the content of an instance with a backup written by
// Backup. The backup must load with the registered entities; otherwise
// nothing changes.
func (db *Deeb) Restore(ctx context.Context, instance string, r io.Reader) error {
	inst, err := db.instance(instance)
	if err != nil {
		return err
	}
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDurability, err)
	}
	defer zr.Close()
	snap, err := storage.Decode(zr)
	if err != nil {
		return fmt.Errorf("%w: failed to read backup: %w", ErrDurability, err)
	}
	s, err := newState(inst.entities, snap)
	if err != nil {
		return err
	}
	release, err := inst.lock.Acquire(ctx, db.opts.lockTimeout())
	if err != nil {
		return classify(err)
	}
	defer release()
	if err := inst.persist(s, db.opts.Indent); err != nil {
		return err
	}
	inst.cur.Store(s)
	inst.log.InfoContext(ctx, "Restored instance")
	if h := db.opts.History; h != nil {
		if err := h.Record(ctx, inst.path, "restore backup"); err != nil {
			inst.log.WarnContext(ctx, "Failed to record history", "err", err)
		}
	}
	return nil
}
