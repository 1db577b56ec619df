package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
)

// Ledger is the read side of the system: it answers balance and history
// queries for an authenticated account holder. All writes go through the
// transfer orchestrator.
type Ledger struct {
	store interfaces.LedgerStore // storage implementation, memory or postgres
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store interfaces.LedgerStore) *Ledger {
	return &Ledger{store: store}
}

// Statement is what an account holder may see about their own account.
// The identity profile is deliberately absent.
type Statement struct {
	Handle  string          `json:"account"`
	Balance decimal.Decimal `json:"balance"`
}

// GetBalance returns the balance of the account owned by ownerID.
func (l *Ledger) GetBalance(ctx context.Context, ownerID string) (Statement, error) {
	acc, err := l.account(ctx, ownerID)
	if err != nil {
		return Statement{}, err
	}
	return Statement{Handle: acc.Handle, Balance: acc.Balance}, nil
}

// GetTransactions returns every transfer attempt recorded against the
// account owned by ownerID, committed and rejected, oldest first.
func (l *Ledger) GetTransactions(ctx context.Context, ownerID string) ([]models.Transaction, error) {
	acc, err := l.account(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	txs, err := l.store.ListTransactions(ctx, acc.Handle)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", acc.Handle, err)
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return txs, nil
}

func (l *Ledger) account(ctx context.Context, ownerID string) (models.Account, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return models.Account{}, fmt.Errorf("%w: empty owner", models.ErrAccountNotFound)
	}
	return l.store.FindAccountByOwner(ctx, ownerID)
}
