package interfaces

import (
	"context"
	"time"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
	"github.com/shopspring/decimal"
)

// AccountTx is the view of one account handed to WithAccountLock callbacks.
// Everything staged through it is committed as a single atomic unit when the
// callback returns nil, and discarded otherwise.
type AccountTx interface {
	// Account returns the snapshot read under the lock, including staged debits.
	Account() models.Account
	// History returns the account's transactions created at or after since.
	// A zero since means all-time.
	History(ctx context.Context, since time.Time) ([]models.Transaction, error)
	// Debit stages a balance decrease. It fails with models.ErrInsufficientFunds
	// rather than letting the balance go negative.
	Debit(ctx context.Context, amount decimal.Decimal) error
	// CreateTransaction stages an immutable record and returns it with its id
	// and timestamp assigned.
	CreateTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error)
}

type LedgerStore interface {
	GetAccount(ctx context.Context, handle string) (models.Account, error)
	FindAccountByOwner(ctx context.Context, ownerID string) (models.Account, error)
	ListTransactions(ctx context.Context, handle string) ([]models.Transaction, error)
	WithAccountLock(ctx context.Context, handle string, fn func(ctx context.Context, tx AccountTx) error) error
}
