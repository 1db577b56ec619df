package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/lock"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
)

// Op names a store operation that can be made to fail with InjectFault.
type Op string

const (
	OpGetAccount Op = "get_account"
	OpHistory    Op = "history"
	OpDebit      Op = "debit"
	OpCreate     Op = "create_transaction"
	OpCommit     Op = "commit"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// Mutations staged inside WithAccountLock become visible only on commit.
type MemoryLedgerStore struct {
	mu           sync.RWMutex              // protects everything below
	accounts     map[string]models.Account // keyed by handle
	owners       map[string]string         // owner id -> handle
	transactions []models.Transaction      // append-only
	faults       map[Op]error              // injected failures
	locker       interfaces.AccountLocker  // per-account exclusion
	now          func() time.Time          // clock for transaction timestamps
	newID        func() string             // transaction id generator
}

type Option func(*MemoryLedgerStore)

func WithLocker(l interfaces.AccountLocker) Option {
	return func(m *MemoryLedgerStore) { m.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *MemoryLedgerStore) { m.now = now }
}

// NewMemoryLedgerStore creates an empty store guarded by an in-process locker.
func NewMemoryLedgerStore(opts ...Option) *MemoryLedgerStore {
	m := &MemoryLedgerStore{
		accounts: make(map[string]models.Account),
		owners:   make(map[string]string),
		faults:   make(map[Op]error),
		locker:   lock.NewLocal(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PutAccount opens or replaces an account. Account opening happens outside
// the transfer path; this exists for seeding and tests.
func (m *MemoryLedgerStore) PutAccount(acc models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.accounts[acc.Handle]; ok && m.owners[prev.OwnerID] == acc.Handle {
		delete(m.owners, prev.OwnerID)
	}
	m.accounts[acc.Handle] = cloneAccount(acc)
	m.owners[acc.OwnerID] = acc.Handle
}

// InjectFault makes every later call of op fail with ErrStorageUnavailable
// wrapping err, until ClearFaults.
func (m *MemoryLedgerStore) InjectFault(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = err
}

func (m *MemoryLedgerStore) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = make(map[Op]error)
}

// fault must be called with mu held.
func (m *MemoryLedgerStore) fault(op Op) error {
	if err, ok := m.faults[op]; ok {
		return fmt.Errorf("%w: %s: %w", models.ErrStorageUnavailable, op, err)
	}
	return nil
}

func (m *MemoryLedgerStore) GetAccount(ctx context.Context, handle string) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fault(OpGetAccount); err != nil {
		return models.Account{}, err
	}
	acc, ok := m.accounts[handle]
	if !ok {
		return models.Account{}, fmt.Errorf("%w: %s", models.ErrAccountNotFound, handle)
	}
	return cloneAccount(acc), nil
}

func (m *MemoryLedgerStore) FindAccountByOwner(ctx context.Context, ownerID string) (models.Account, error) {
	m.mu.RLock()
	handle, ok := m.owners[ownerID]
	m.mu.RUnlock()

	if !ok {
		return models.Account{}, fmt.Errorf("%w: owner %s", models.ErrAccountNotFound, ownerID)
	}
	return m.GetAccount(ctx, handle)
}

func (m *MemoryLedgerStore) ListTransactions(ctx context.Context, handle string) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fault(OpHistory); err != nil {
		return nil, err
	}
	return m.history(handle, time.Time{}), nil
}

// history must be called with mu held.
func (m *MemoryLedgerStore) history(handle string, since time.Time) []models.Transaction {
	var result []models.Transaction
	for _, t := range m.transactions {
		if t.SenderAccount != handle || t.CreatedAt.Before(since) {
			continue
		}
		result = append(result, cloneTransaction(t))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// WithAccountLock runs fn with exclusive access to handle and commits what it
// staged. The lock is released on every exit path, panics included.
func (m *MemoryLedgerStore) WithAccountLock(ctx context.Context, handle string, fn func(ctx context.Context, tx interfaces.AccountTx) error) error {
	release, err := m.locker.Lock(ctx, handle)
	if err != nil {
		return err
	}
	defer release()

	m.mu.RLock()
	acc, ok := m.accounts[handle]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrAccountNotFound, handle)
	}

	tx := &memoryTx{store: m, account: cloneAccount(acc)}
	if err := fn(context.WithoutCancel(ctx), tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *MemoryLedgerStore) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpCommit); err != nil {
		return err
	}

	stored := m.accounts[tx.account.Handle]
	stored.Balance = tx.account.Balance
	m.accounts[tx.account.Handle] = stored
	m.transactions = append(m.transactions, tx.staged...)
	return nil
}

type memoryTx struct {
	store   *MemoryLedgerStore
	account models.Account
	staged  []models.Transaction
}

func (t *memoryTx) Account() models.Account {
	return cloneAccount(t.account)
}

func (t *memoryTx) History(ctx context.Context, since time.Time) ([]models.Transaction, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	if err := t.store.fault(OpHistory); err != nil {
		return nil, err
	}
	return t.store.history(t.account.Handle, since), nil
}

func (t *memoryTx) Debit(ctx context.Context, amount decimal.Decimal) error {
	t.store.mu.RLock()
	err := t.store.fault(OpDebit)
	t.store.mu.RUnlock()
	if err != nil {
		return err
	}

	if t.account.Balance.LessThan(amount) {
		return models.ErrInsufficientFunds
	}
	t.account.Balance = t.account.Balance.Sub(amount)
	return nil
}

func (t *memoryTx) CreateTransaction(ctx context.Context, rec models.Transaction) (models.Transaction, error) {
	t.store.mu.RLock()
	err := t.store.fault(OpCreate)
	t.store.mu.RUnlock()
	if err != nil {
		return models.Transaction{}, err
	}

	if rec.ID == "" {
		rec.ID = t.store.newID()
	}
	rec.SenderAccount = t.account.Handle
	rec.CreatedAt = t.store.now().UTC()
	t.staged = append(t.staged, cloneTransaction(rec))
	return rec, nil
}

func cloneAccount(acc models.Account) models.Account {
	if acc.Identity != nil {
		profile := *acc.Identity
		acc.Identity = &profile
	}
	return acc
}

func cloneTransaction(tx models.Transaction) models.Transaction {
	if tx.ReasonCodes != nil {
		tx.ReasonCodes = append([]string(nil), tx.ReasonCodes...)
	}
	return tx
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
