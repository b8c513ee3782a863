package ledger

import (
	"errors"
	"fmt"

	"github.com/solstake/ledger-engine/internal/store"
)

// Error kinds returned by the ledger. Every returned error wraps exactly one
// of these; use errors.Is to branch on the kind. The underlying cause, when
// there is one, is wrapped as well.
var (
	ErrInvalidAmount         = errors.New("ledger: invalid amount")
	ErrUnknownTier           = errors.New("ledger: unknown staking tier")
	ErrInvalidStakeState     = errors.New("ledger: invalid stake state")
	ErrQuoteUnavailable      = errors.New("ledger: quote unavailable")
	ErrProviderUnavailable   = errors.New("ledger: provider unavailable")
	ErrPersistence           = errors.New("ledger: persistence error")
	ErrNotFound              = errors.New("ledger: not found")
	ErrAggregateUpdateFailed = errors.New("ledger: aggregate update failed")
	ErrLimitExceeded         = errors.New("ledger: limit exceeded")
	ErrInvalidAddress        = errors.New("ledger: invalid wallet address")
	ErrWalletNotLinked       = errors.New("ledger: wallet not linked")
	ErrInvalidInput          = errors.New("ledger: invalid input")
)

var kinds = []error{
	ErrInvalidAmount,
	ErrUnknownTier,
	ErrInvalidStakeState,
	ErrQuoteUnavailable,
	ErrProviderUnavailable,
	ErrAggregateUpdateFailed,
	ErrPersistence,
	ErrNotFound,
	ErrLimitExceeded,
	ErrInvalidAddress,
	ErrWalletNotLinked,
	ErrInvalidInput,
}

// Kind returns the ledger error kind wrapped by err, or nil.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// storeErr maps a store failure on a read or create path.
func storeErr(err error, op string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
