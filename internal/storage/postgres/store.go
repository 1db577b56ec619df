package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
)

const defaultTxTimeout = 10 * time.Second

type PostgresLedgerStore struct {
	db        *sql.DB
	locker    interfaces.AccountLocker
	txTimeout time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*PostgresLedgerStore)

// WithLocker adds a lock taken before the row lock, so contention across
// instances fails fast instead of queueing inside the database.
func WithLocker(l interfaces.AccountLocker) Option {
	return func(p *PostgresLedgerStore) { p.locker = l }
}

// WithTxTimeout bounds a locked unit once it has started.
func WithTxTimeout(d time.Duration) Option {
	return func(p *PostgresLedgerStore) { p.txTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *PostgresLedgerStore) { p.logger = l }
}

func NewPostgresLedgerStore(db *sql.DB, opts ...Option) *PostgresLedgerStore {
	p := &PostgresLedgerStore{
		db:        db,
		txTimeout: defaultTxTimeout,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

const accountColumns = `handle, owner_id, balance, legal_name, address, date_of_birth, government_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var (
		acc          models.Account
		legalName    sql.NullString
		address      sql.NullString
		dateOfBirth  sql.NullTime
		governmentID sql.NullString
	)
	if err := row.Scan(&acc.Handle, &acc.OwnerID, &acc.Balance, &legalName, &address, &dateOfBirth, &governmentID); err != nil {
		return models.Account{}, err
	}

	if legalName.Valid || address.Valid || dateOfBirth.Valid || governmentID.Valid {
		acc.Identity = &models.IdentityProfile{
			LegalName:    legalName.String,
			Address:      address.String,
			DateOfBirth:  dateOfBirth.Time,
			GovernmentID: governmentID.String,
		}
	}
	return acc, nil
}

func (p *PostgresLedgerStore) GetAccount(ctx context.Context, handle string) (models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE handle = $1`

	acc, err := scanAccount(p.db.QueryRowContext(ctx, query, handle))
	if err == sql.ErrNoRows {
		return models.Account{}, fmt.Errorf("%w: %s", models.ErrAccountNotFound, handle)
	}
	if err != nil {
		return models.Account{}, classify("get account", err)
	}
	return acc, nil
}

func (p *PostgresLedgerStore) FindAccountByOwner(ctx context.Context, ownerID string) (models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1`

	acc, err := scanAccount(p.db.QueryRowContext(ctx, query, ownerID))
	if err == sql.ErrNoRows {
		return models.Account{}, fmt.Errorf("%w: owner %s", models.ErrAccountNotFound, ownerID)
	}
	if err != nil {
		return models.Account{}, classify("find account by owner", err)
	}
	return acc, nil
}

// OpenAccount inserts a new account. Account opening is not part of the
// transfer path; the migrate command and tests use it for seeding.
// An existing handle or owner gives ErrAccountExists.
func (p *PostgresLedgerStore) OpenAccount(ctx context.Context, acc models.Account) error {
	const query = `INSERT INTO accounts (` + accountColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var legalName, address, governmentID sql.NullString
	var dateOfBirth sql.NullTime
	if id := acc.Identity; id != nil {
		legalName = sql.NullString{String: id.LegalName, Valid: id.LegalName != ""}
		address = sql.NullString{String: id.Address, Valid: id.Address != ""}
		dateOfBirth = sql.NullTime{Time: id.DateOfBirth, Valid: !id.DateOfBirth.IsZero()}
		governmentID = sql.NullString{String: id.GovernmentID, Valid: id.GovernmentID != ""}
	}

	if _, err := p.db.ExecContext(ctx, query, acc.Handle, acc.OwnerID, acc.Balance, legalName, address, dateOfBirth, governmentID); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAccountExists, acc.Handle)
		}
		return classify("open account", err)
	}
	return nil
}

const transactionColumns = `id, sender_account, sender_id, receiver_account, amount, reason, status, rejection_reason, reason_codes, created_at`

func (p *PostgresLedgerStore) ListTransactions(ctx context.Context, handle string) ([]models.Transaction, error) {
	return queryTransactions(ctx, p.db, handle, time.Time{})
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryTransactions(ctx context.Context, q queryer, handle string, since time.Time) ([]models.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions
	WHERE sender_account = $1 AND created_at >= $2
	ORDER BY created_at, id`

	rows, err := q.QueryContext(ctx, query, handle, since)
	if err != nil {
		return nil, classify("query transactions", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var (
			tx              models.Transaction
			rejectionReason sql.NullString
		)
		if err := rows.Scan(
			&tx.ID,
			&tx.SenderAccount,
			&tx.SenderID,
			&tx.ReceiverAccount,
			&tx.Amount,
			&tx.Reason,
			&tx.Status,
			&rejectionReason,
			pq.Array(&tx.ReasonCodes),
			&tx.CreatedAt,
		); err != nil {
			return nil, classify("scan transaction", err)
		}
		tx.RejectionReason = models.ReasonCode(rejectionReason.String)
		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("iterate transactions", err)
	}
	return txs, nil
}

// WithAccountLock opens one database transaction, locks the account row with
// SELECT ... FOR UPDATE and runs fn against it. The debit and every record fn
// creates commit together or not at all.
//
// The caller's context only bounds lock acquisition, row lock included. The
// database transaction itself runs on a detached context with its own
// timeout, so an abandoned request either commits fully or rolls back.
func (p *PostgresLedgerStore) WithAccountLock(ctx context.Context, handle string, fn func(ctx context.Context, tx interfaces.AccountTx) error) (err error) {
	if p.locker != nil {
		release, lockErr := p.locker.Lock(ctx, handle)
		if lockErr != nil {
			return lockErr
		}
		defer release()
	}

	unitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.txTimeout)
	defer cancel()

	dbTx, err := p.db.BeginTx(unitCtx, nil)
	if err != nil {
		return classify("begin account transaction", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = dbTx.Rollback()
			panic(r)
		}
		if err != nil {
			if rbErr := dbTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				p.logger.Warn("account transaction rollback failed", zap.String("account", handle), zap.Error(rbErr))
			}
		}
	}()

	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE handle = $1 FOR UPDATE`

	acc, err := scanAccount(dbTx.QueryRowContext(ctx, query, handle))
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", models.ErrAccountNotFound, handle)
	}
	if err != nil {
		return classify("lock account", err)
	}

	tx := &postgresTx{tx: dbTx, account: acc, now: p.now}
	if err = fn(unitCtx, tx); err != nil {
		return err
	}

	if err = dbTx.Commit(); err != nil {
		return classify("commit account transaction", err)
	}
	return nil
}

type postgresTx struct {
	tx      *sql.Tx
	account models.Account
	now     func() time.Time
}

func (t *postgresTx) Account() models.Account {
	acc := t.account
	if acc.Identity != nil {
		profile := *acc.Identity
		acc.Identity = &profile
	}
	return acc
}

func (t *postgresTx) History(ctx context.Context, since time.Time) ([]models.Transaction, error) {
	return queryTransactions(ctx, t.tx, t.account.Handle, since)
}

func (t *postgresTx) Debit(ctx context.Context, amount decimal.Decimal) error {
	const query = `
UPDATE accounts
SET balance = balance - $2::numeric,
    updated_at = NOW()
WHERE handle = $1
  AND balance >= $2::numeric`

	res, err := t.tx.ExecContext(ctx, query, t.account.Handle, amount)
	if err != nil {
		return classify("debit account", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return classify("debit account", err)
	}
	if affected == 0 {
		return models.ErrInsufficientFunds
	}

	t.account.Balance = t.account.Balance.Sub(amount)
	return nil
}

func (t *postgresTx) CreateTransaction(ctx context.Context, rec models.Transaction) (models.Transaction, error) {
	const query = `INSERT INTO transactions (` + transactionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.SenderAccount = t.account.Handle
	rec.CreatedAt = t.now().UTC().Truncate(time.Microsecond) // TIMESTAMPTZ precision

	rejectionReason := sql.NullString{String: string(rec.RejectionReason), Valid: rec.RejectionReason != ""}

	if _, err := t.tx.ExecContext(ctx, query,
		rec.ID,
		rec.SenderAccount,
		rec.SenderID,
		rec.ReceiverAccount,
		rec.Amount,
		rec.Reason,
		rec.Status,
		rejectionReason,
		pq.Array(rec.ReasonCodes),
		rec.CreatedAt,
	); err != nil {
		return models.Transaction{}, classify("create transaction", err)
	}
	return rec, nil
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
