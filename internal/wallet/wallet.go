// Package wallet talks to a Solana JSON-RPC node: balance lookups, address
// validation, and submission of transactions already signed by the user's
// wallet. It never holds keys.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrTxFailed is returned by Confirm when the transaction landed with an
	// on-chain error.
	ErrTxFailed = errors.New("wallet: transaction failed on chain")

	// ErrTxNotConfirmed is returned by Confirm when the context ends before
	// the transaction reaches confirmed status.
	ErrTxNotConfirmed = errors.New("wallet: transaction not confirmed")
)

// Client wraps a Solana RPC endpoint.
type Client struct {
	rpc          *rpc.Client
	pollInterval time.Duration
}

// New creates a client for endpoint (for example rpc.MainNetBeta_RPC).
func New(endpoint string) *Client {
	return &Client{
		rpc:          rpc.New(endpoint),
		pollInterval: 500 * time.Millisecond,
	}
}

// ValidateAddress checks that address is a base58-encoded 32-byte public key.
func (c *Client) ValidateAddress(address string) error {
	_, err := solana.PublicKeyFromBase58(address)
	return err
}

// Balance returns the confirmed lamport balance of address.
func (c *Client) Balance(ctx context.Context, address string) (uint64, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("wallet: parse address: %w", err)
	}
	res, err := c.rpc.GetBalance(ctx, pk, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("wallet: get balance: %w", err)
	}
	return res.Value, nil
}

// Submit sends a signed, serialized transaction and returns its signature.
func (c *Client) Submit(ctx context.Context, rawTx []byte) (string, error) {
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, rawTx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("wallet: send transaction: %w", err)
	}
	return sig.String(), nil
}

// Confirm polls the signature status until the transaction is confirmed,
// fails on chain, or ctx ends.
func (c *Client) Confirm(ctx context.Context, signature string) error {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("wallet: parse signature: %w", err)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return fmt.Errorf("%w: %v", ErrTxFailed, st.Err)
			}
			switch st.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrTxNotConfirmed, signature, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close releases the RPC client.
func (c *Client) Close() error {
	return c.rpc.Close()
}
