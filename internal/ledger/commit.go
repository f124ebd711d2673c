package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bullionbook/lot-engine/internal/metrics"
	"github.com/bullionbook/lot-engine/internal/store"
)

// apply writes each change in order and stops at the first failure. Inside
// a store transaction that is enough: the transaction discards the rest.
func apply(ctx context.Context, st store.Store, changes []Change) error {
	for _, c := range changes {
		if err := write(ctx, st, c); err != nil {
			return err
		}
	}
	return nil
}

func write(ctx context.Context, st store.Store, c Change) error {
	var err error
	switch c.Op {
	case OpInsert:
		err = st.InsertTransaction(ctx, c.After)
	case OpUpdate:
		err = st.UpdateTransaction(ctx, c.After)
	case OpDelete:
		err = st.DeleteTransaction(ctx, c.Before.ID)
	default:
		err = fmt.Errorf("unknown change op %q", c.Op)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.Op, c.ID(), err)
	}
	return nil
}

// undo returns the change that reverts c once c has been written.
func undo(c Change) Change {
	switch c.Op {
	case OpInsert:
		return Change{Op: OpDelete, Before: c.After}
	case OpDelete:
		return Change{Op: OpInsert, After: c.Before}
	default:
		// The store advanced c.After.Version; the revert must expect it.
		restore := c.Before.Clone()
		restore.Version = c.After.Version
		return Change{Op: OpUpdate, Before: c.After, After: restore}
	}
}

// commitCompensating writes changes one at a time for stores without
// transactions. If a write fails, every write already made is reverted in
// reverse order. If a revert fails too the ledger is left inconsistent and
// ErrConsistency is returned.
func commitCompensating(ctx context.Context, st store.Store, changes []Change) error {
	done := make([]Change, 0, len(changes))
	for _, c := range changes {
		err := write(ctx, st, c)
		if err == nil {
			done = append(done, c)
			continue
		}
		if len(done) == 0 {
			return err
		}

		// Roll back even if the caller has given up on ctx.
		rbCtx := context.WithoutCancel(ctx)
		for i := len(done) - 1; i >= 0; i-- {
			if rbErr := write(rbCtx, st, undo(done[i])); rbErr != nil {
				metrics.Compensations.WithLabelValues("failed").Inc()
				slog.Error("compensating rollback failed",
					"failed_write", c.ID(),
					"write_err", err,
					"rollback_write", done[i].ID(),
					"rollback_err", rbErr,
				)
				return fmt.Errorf("%w: %w (rollback: %w)", ErrConsistency, err, rbErr)
			}
		}
		metrics.Compensations.WithLabelValues("rolled_back").Inc()
		slog.Warn("partial commit rolled back", "failed_write", c.ID(), "err", err, "reverted", len(done))
		return err
	}
	return nil
}

// isRetryable reports whether the whole load→plan→commit sequence should
// be tried again.
func isRetryable(err error) bool {
	return errors.Is(err, store.ErrConflict) && !errors.Is(err, ErrConsistency)
}
