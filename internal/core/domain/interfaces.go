package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores for missing or expired keys.
var ErrNotFound = errors.New("not found")

// TokenSource discovers agent tokens and fetches their market data.
type TokenSource interface {
	// ListTokens returns every candidate token registered under the manager.
	// It is the only fetch whose failure aborts a pipeline run.
	ListTokens(ctx context.Context) ([]ListToken, error)

	// TokenDetails returns nil when the token has no retrievable details.
	TokenDetails(ctx context.Context, tokenAddress string) *TokenDetails

	// Holders returns the full holder list; empty on failure.
	Holders(ctx context.Context, tokenAddress string) HolderPage

	// Swaps returns recent trades normalized to ether amounts; empty on failure.
	Swaps(ctx context.Context, tokenAddress string) []Swap
}

// BalanceReader reads claimable fee and native balances for many wallets at once.
type BalanceReader interface {
	// BatchReadBalances returns maps keyed by lower-case wallet. Missing keys mean unknown.
	BatchReadBalances(ctx context.Context, owners []string) (claimable, wallet map[string]float64)
}

// WalletActivity surfaces transactions made directly by tracked wallets.
type WalletActivity interface {
	// WalletSwaps returns the wallet's latest outgoing transfers, newest first.
	WalletSwaps(ctx context.Context, wallet string, maxResults int) []WalletTx

	// ResolveMemos decodes the memo text of each transaction that carries one.
	ResolveMemos(ctx context.Context, hashes []string) map[string]string
}

// SnapshotStore holds the published snapshot, the active goal and the memo cache.
type SnapshotStore interface {
	GetState(ctx context.Context) ([]byte, error)
	PutState(ctx context.Context, state *NetworkState, ttl time.Duration) error

	GetGoal(ctx context.Context) (*NetworkGoal, error)
	PutGoal(ctx context.Context, goal *NetworkGoal) error
	DeleteGoal(ctx context.Context) error

	GetMemo(ctx context.Context, txHash string) (string, error)
	PutMemo(ctx context.Context, txHash, memo string, ttl time.Duration) error

	Close() error
}

// SnapshotListener is notified after a snapshot has been published. Errors are
// logged and counted; they never undo the publication.
type SnapshotListener interface {
	Name() string
	OnSnapshot(ctx context.Context, state *NetworkState) error
}

// PowerScorer maps agent metrics to a power score.
type PowerScorer interface {
	Score(agent *Agent, goalWeight float64, goalScore int) PowerScore
}
