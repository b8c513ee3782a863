package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/model"
	"github.com/solstake/ledger-engine/internal/store"
)

var (
	lamportsPerSOL = decimal.NewFromInt(1_000_000_000)
	maxSlippagePct = decimal.NewFromInt(50)
)

// RegisterUser returns the user for telegramID, creating it on first sight.
// The boolean reports whether a new user was created.
func (l *Ledger) RegisterUser(ctx context.Context, telegramID, username string) (*model.User, bool, error) {
	telegramID = strings.TrimSpace(telegramID)
	if telegramID == "" {
		return nil, false, fmt.Errorf("%w: telegram id is required", ErrInvalidInput)
	}

	existing, err := l.store.GetUserByTelegramID(ctx, telegramID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, storeErr(err, "load user")
	}

	u := &model.User{
		ID:         uuid.New().String(),
		TelegramID: telegramID,
		Username:   username,
		CreatedAt:  l.now().UTC(),
		Settings:   model.DefaultSettings(),
	}
	if err := l.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a registration race; the other caller's user wins.
			existing, err := l.store.GetUserByTelegramID(ctx, telegramID)
			if err != nil {
				return nil, false, storeErr(err, "load user")
			}
			return existing, false, nil
		}
		return nil, false, storeErr(err, "create user")
	}

	slog.Info("user registered", "user", u.ID, "telegram_id", telegramID)
	return u, true, nil
}

// GetUser returns a user by ID.
func (l *Ledger) GetUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "load user")
	}
	return u, nil
}

// LinkWallet validates address and links it to the user.
func (l *Ledger) LinkWallet(ctx context.Context, userID, address string) (*model.User, error) {
	if l.wallet == nil {
		return nil, ErrProviderUnavailable
	}
	address = strings.TrimSpace(address)
	if err := l.wallet.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if err := l.store.SetUserWallet(ctx, userID, address); err != nil {
		return nil, storeErr(err, "link wallet")
	}
	slog.Info("wallet linked", "user", userID, "wallet", address)
	return l.GetUser(ctx, userID)
}

// UpdateSettings replaces the user's settings. Slippage tolerance is a
// percentage in (0, 50].
func (l *Ledger) UpdateSettings(ctx context.Context, userID string, settings model.UserSettings) (*model.User, error) {
	if !settings.SlippageTolerance.IsPositive() || settings.SlippageTolerance.GreaterThan(maxSlippagePct) {
		return nil, fmt.Errorf("%w: slippage tolerance %s", ErrInvalidInput, settings.SlippageTolerance)
	}
	if err := l.store.UpdateUserSettings(ctx, userID, settings); err != nil {
		return nil, storeErr(err, "update settings")
	}
	return l.GetUser(ctx, userID)
}

// WalletBalance returns the SOL balance of the user's linked wallet.
func (l *Ledger) WalletBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if l.wallet == nil {
		return decimal.Zero, ErrProviderUnavailable
	}
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, storeErr(err, "load user")
	}
	if u.WalletAddress == "" {
		return decimal.Zero, fmt.Errorf("%w: user %s", ErrWalletNotLinked, userID)
	}

	lamports, err := l.wallet.Balance(ctx, u.WalletAddress)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance of %s: %w", ErrProviderUnavailable, u.WalletAddress, err)
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), 0).Div(lamportsPerSOL), nil
}
