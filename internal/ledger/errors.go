package ledger

import (
	"errors"

	"github.com/bullionbook/lot-engine/internal/lot"
)

var (
	// ErrInsufficientInventory is returned in strict mode when a sell (add or
	// edit) cannot be covered. errors.As with *lot.InsufficientInventoryError
	// yields the shortfall.
	ErrInsufficientInventory = lot.ErrInsufficientInventory

	// ErrNotFound is returned when the transaction being edited or deleted
	// does not exist.
	ErrNotFound = errors.New("ledger: transaction not found")

	// ErrLotNotFound is returned when a draw names a lot that is not in the
	// ledger.
	ErrLotNotFound = errors.New("ledger: lot not found")

	// ErrOverDraw is returned when a draw exceeds the lot's remaining
	// quantity. It means matcher and ledger disagree and is a defect.
	ErrOverDraw = errors.New("ledger: draw exceeds lot remaining quantity")

	// ErrNegativeRemaining is returned when a buy edit would shrink the lot
	// below what has already been sold from it.
	ErrNegativeRemaining = errors.New("ledger: quantity below amount already sold")

	// ErrLotInUse is returned when deleting a buy that sells still draw from.
	ErrLotInUse = errors.New("ledger: lot is referenced by sells")

	// ErrInvalidTransaction is returned for malformed intents, patches and filters.
	ErrInvalidTransaction = errors.New("ledger: invalid transaction")

	// ErrImmutableField is returned when an edit tries to change kind or metal.
	ErrImmutableField = errors.New("ledger: field cannot be changed")

	// ErrConsistency is returned when the books no longer balance: an
	// invariant check failed, or a partial write could not be rolled back.
	ErrConsistency = errors.New("ledger: consistency failure")
)
