package transfer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/compliance"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/kyc"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/models/events"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/security"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRecorder struct {
	mu     sync.Mutex
	events []events.TransferAttempted
}

func (r *fakeRecorder) Record(e events.TransferAttempted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *fakeRecorder) Events() []events.TransferAttempted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.TransferAttempted(nil), r.events...)
}

type fixture struct {
	store    *memory.MemoryLedgerStore
	recorder *fakeRecorder
	orch     *Orchestrator
}

func completeProfile() *models.IdentityProfile {
	return &models.IdentityProfile{
		LegalName:    "Alice Example",
		Address:      "1 Main St",
		DateOfBirth:  time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC),
		GovernmentID: "X123",
	}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store := memory.NewMemoryLedgerStore(memory.WithClock(func() time.Time { return fixedNow }))
	recorder := &fakeRecorder{}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)

	return &fixture{
		store:    store,
		recorder: recorder,
		orch: NewOrchestrator(
			store,
			kyc.NewVerifier(store),
			compliance.NewScreener(compliance.DefaultPolicy()),
			recorder,
			zaptest.NewLogger(t),
			opts...,
		),
	}
}

func (f *fixture) open(handle, owner, balance string, identity *models.IdentityProfile) {
	f.store.PutAccount(models.Account{
		Handle:   handle,
		OwnerID:  owner,
		Balance:  decimal.RequireFromString(balance),
		Identity: identity,
	})
}

func (f *fixture) balance(t *testing.T, handle string) decimal.Decimal {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), handle)
	require.NoError(t, err)
	return acc.Balance
}

func (f *fixture) transactions(t *testing.T, handle string) []models.Transaction {
	t.Helper()
	txs, err := f.store.ListTransactions(context.Background(), handle)
	require.NoError(t, err)
	return txs
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTransferFundsSuccess(t *testing.T) {
	f := newFixture(t)
	f.open("A", "alice", "1000.00", completeProfile())

	res := f.orch.TransferFunds(context.Background(), Identity{OwnerID: "alice"}, "B", amount("500.00"), "rent")

	require.Equal(t, OutcomeSuccess, res.Outcome)
	assert.True(t, res.Succeeded())
	assert.NotEmpty(t, res.TransactionID)
	assert.Equal(t, fixedNow, res.Timestamp)
	assert.Empty(t, res.ReasonCode)
	assert.True(t, f.balance(t, "A").Equal(amount("500.00")))

	txs := f.transactions(t, "A")
	require.Len(t, txs, 1)
	assert.Equal(t, res.TransactionID, txs[0].ID)
	assert.Equal(t, models.TransactionCommitted, txs[0].Status)
	assert.True(t, txs[0].Amount.Equal(amount("500.00")))
	assert.Equal(t, "rent", txs[0].Reason)

	evs := f.recorder.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, string(OutcomeSuccess), evs[0].Outcome)
	assert.Equal(t, string(StateCommitted), evs[0].Step)
	assert.Equal(t, res.TransactionID, evs[0].TransactionID)
	assert.Equal(t, "A", evs[0].SenderAccount)
}

func TestTransferFundsInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.open("C", "carol", "200.00", completeProfile())

	res := f.orch.TransferFunds(context.Background(), Identity{OwnerID: "carol"}, "D", amount("500.00"), "x")

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, models.ReasonInsufficientFunds, res.ReasonCode)
	assert.True(t, f.balance(t, "C").Equal(amount("200.00")))

	txs := f.transactions(t, "C")
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionRejected, txs[0].Status)
	assert.Equal(t, models.ReasonInsufficientFunds, txs[0].RejectionReason)
	assert.Equal(t, res.TransactionID, txs[0].ID)
}

func TestTransferFundsHighRiskDestinationBlocked(t *testing.T) {
	f := newFixture(t)
	f.open("A", "alice", "10000.00", completeProfile())

	res := f.orch.TransferFunds(context.Background(), Identity{OwnerID: "alice"}, "high-risk-account", amount("6000.00"), "x")

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, models.ReasonComplianceBlocked, res.ReasonCode)
	assert.True(t, f.balance(t, "A").Equal(amount("10000.00")))

	txs := f.transactions(t, "A")
	require.Len(t, txs, 1)
	assert.Equal(t, models.ReasonComplianceBlocked, txs[0].RejectionReason)
	assert.Equal(t, []string{compliance.CodeHighRiskDestination}, txs[0].ReasonCodes)

	evs := f.recorder.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, []string{compliance.CodeHighRiskDestination}, evs[0].RuleCodes)
}

func TestTransferFundsKYCFailed(t *testing.T) {
	f := newFixture(t)
	profile := completeProfile()
	profile.GovernmentID = ""
	f.open("E", "erin", "1000000.00", profile)

	for _, amt := range []string{"1.00", "5000000.00"} {
		res := f.orch.TransferFunds(context.Background(), Identity{OwnerID: "erin"}, "B", amount(amt), "x")
		assert.Equal(t, OutcomeRejected, res.Outcome)
		assert.Equal(t, models.ReasonKYCFailed, res.ReasonCode, "amount %s", amt)
	}

	assert.True(t, f.balance(t, "E").Equal(amount("1000000.00")))
	txs := f.transactions(t, "E")
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, models.ReasonKYCFailed, tx.RejectionReason)
	}

	evs := f.recorder.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, string(StateRejected), evs[0].Step)
}

func TestTransferFundsVelocityBlocksFourthTransfer(t *testing.T) {
	f := newFixture(t)
	f.open("A", "alice", "1000.00", completeProfile())
	ctx := context.Background()
	caller := Identity{OwnerID: "alice"}

	for i := 0; i < 3; i++ {
		res := f.orch.TransferFunds(ctx, caller, "B", amount("10.00"), "x")
		require.Equal(t, OutcomeSuccess, res.Outcome, "transfer %d", i+1)
	}

	res := f.orch.TransferFunds(ctx, caller, "B", amount("10.00"), "x")
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, models.ReasonComplianceBlocked, res.ReasonCode)
	assert.True(t, f.balance(t, "A").Equal(amount("970.00")))

	txs := f.transactions(t, "A")
	require.Len(t, txs, 4)
	assert.Equal(t, []string{compliance.CodeVelocity}, txs[3].ReasonCodes)
}

func TestTransferFundsStorageFailureMidTransfer(t *testing.T) {
	for _, op := range []memory.Op{memory.OpHistory, memory.OpDebit, memory.OpCreate, memory.OpCommit} {
		t.Run(string(op), func(t *testing.T) {
			f := newFixture(t)
			f.open("A", "alice", "1000.00", completeProfile())
			f.store.InjectFault(op, errors.New("connection reset"))

			res := f.orch.TransferFunds(context.Background(), Identity{OwnerID: "alice"}, "B", amount("500.00"), "rent")

			assert.Equal(t, OutcomeInfrastructureFailure, res.Outcome)
			assert.True(t, res.Retryable())
			assert.NotEmpty(t, res.Detail)
			assert.Empty(t, res.TransactionID)
			assert.Empty(t, res.ReasonCode)

			f.store.ClearFaults()
			assert.True(t, f.balance(t, "A").Equal(amount("1000.00")))
			assert.Empty(t, f.transactions(t, "A"))

			evs := f.recorder.Events()
			require.Len(t, evs, 1)
			assert.Equal(t, string(OutcomeInfrastructureFailure), evs[0].Outcome)
		})
	}
}

func TestTransferFundsKYCReadFailureIsInfrastructure(t *testing.T) {
	f := newFixture(t)
	f.open("A", "alice", "1000.00", completeProfile())
	f.store.InjectFault(memory.OpGetAccount, errors.New("timeout"))

	res := f.orch.TransferFunds(context.Background(), Identity{OwnerID: "alice"}, "B", amount("5.00"), "x")

	assert.Equal(t, OutcomeInfrastructureFailure, res.Outcome)
	f.store.ClearFaults()
	assert.Empty(t, f.transactions(t, "A"))
}

func TestTransferFundsInvalidRequest(t *testing.T) {
	tests := []struct {
		name     string
		caller   string
		receiver string
		amount   string
		reason   string
	}{
		{name: "zero amount", caller: "alice", receiver: "B", amount: "0", reason: "x"},
		{name: "negative amount", caller: "alice", receiver: "B", amount: "-5.00", reason: "x"},
		{name: "too many decimals", caller: "alice", receiver: "B", amount: "1.001", reason: "x"},
		{name: "empty receiver", caller: "alice", receiver: "  ", amount: "5.00", reason: "x"},
		{name: "empty caller", caller: "", receiver: "B", amount: "5.00", reason: "x"},
		{name: "unknown caller", caller: "mallory", receiver: "B", amount: "5.00", reason: "x"},
		{name: "self transfer", caller: "alice", receiver: "A", amount: "5.00", reason: "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.open("A", "alice", "1000.00", completeProfile())

			res := f.orch.TransferFunds(context.Background(), Identity{OwnerID: tt.caller}, tt.receiver, amount(tt.amount), tt.reason)

			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.Equal(t, models.ReasonInvalidRequest, res.ReasonCode)
			assert.Empty(t, res.TransactionID)
			assert.Empty(t, f.transactions(t, "A"))
			assert.Empty(t, f.recorder.Events())
			assert.True(t, f.balance(t, "A").Equal(amount("1000.00")))
		})
	}
}

func TestTransferFundsConcurrentDebitsSerialize(t *testing.T) {
	f := newFixture(t)
	f.open("A", "alice", "100.00", completeProfile())

	results := make([]Result, 2)
	var g errgroup.Group
	for i := range results {
		i := i
		g.Go(func() error {
			results[i] = f.orch.TransferFunds(context.Background(), Identity{OwnerID: "alice"}, "B", amount("60.00"), "x")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, insufficient int
	for _, r := range results {
		switch {
		case r.Outcome == OutcomeSuccess:
			ok++
		case r.ReasonCode == models.ReasonInsufficientFunds:
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.True(t, f.balance(t, "A").Equal(amount("40.00")))
}

func TestTransferFundsBalanceNeverNegative(t *testing.T) {
	policy := compliance.DefaultPolicy()
	policy.VelocityLimit = 1000

	store := memory.NewMemoryLedgerStore()
	store.PutAccount(models.Account{Handle: "A", OwnerID: "alice", Balance: amount("100.00"), Identity: completeProfile()})
	recorder := &fakeRecorder{}
	orch := NewOrchestrator(store, kyc.NewVerifier(store), compliance.NewScreener(policy), recorder, zap.NewNop())

	const attempts = 25
	results := make([]Result, attempts)
	var g errgroup.Group
	for i := range results {
		i := i
		g.Go(func() error {
			results[i] = orch.TransferFunds(context.Background(), Identity{OwnerID: "alice"}, "B", amount("7.00"), "x")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var committed int
	for _, r := range results {
		if r.Succeeded() {
			committed++
		} else {
			assert.Equal(t, models.ReasonInsufficientFunds, r.ReasonCode)
		}
	}
	assert.Equal(t, 14, committed)

	acc, err := store.GetAccount(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(amount("2.00")))

	// every call left exactly one record and one audit event
	txs, err := store.ListTransactions(context.Background(), "A")
	require.NoError(t, err)
	assert.Len(t, txs, attempts)
	assert.Len(t, recorder.Events(), attempts)
}

func TestTransferFundsCancelledBeforeLock(t *testing.T) {
	f := newFixture(t)
	f.open("A", "alice", "1000.00", completeProfile())

	release, err := lockAccount(f.store, "A")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := f.orch.TransferFunds(ctx, Identity{OwnerID: "alice"}, "B", amount("5.00"), "x")

	assert.Equal(t, OutcomeInfrastructureFailure, res.Outcome)
	assert.Contains(t, res.Detail, "busy")
	assert.True(t, f.balance(t, "A").Equal(amount("1000.00")))
}

// lockAccount holds handle's account lock until the returned func is called.
func lockAccount(store interfaces.LedgerStore, handle string) (func(), error) {
	held := make(chan struct{})
	release := make(chan struct{})
	errc := make(chan error, 1)

	go func() {
		errc <- store.WithAccountLock(context.Background(), handle, func(ctx context.Context, tx interfaces.AccountTx) error {
			close(held)
			<-release
			return nil
		})
	}()

	select {
	case <-held:
		return func() {
			close(release)
			<-errc
		}, nil
	case err := <-errc:
		return nil, err
	}
}

func TestTransferFundsCallerCancelDuringUnitStillCommits(t *testing.T) {
	f := newFixture(t)
	f.open("A", "alice", "1000.00", completeProfile())

	ctx, cancel := context.WithCancel(context.Background())
	screener := &cancellingScreener{Screener: compliance.NewScreener(compliance.DefaultPolicy()), cancel: cancel}
	orch := NewOrchestrator(f.store, kyc.NewVerifier(f.store), screener, f.recorder, zaptest.NewLogger(t))

	res := orch.TransferFunds(ctx, Identity{OwnerID: "alice"}, "B", amount("5.00"), "x")

	require.Equal(t, OutcomeSuccess, res.Outcome)
	assert.True(t, f.balance(t, "A").Equal(amount("995.00")))
	assert.Len(t, f.transactions(t, "A"), 1)
}

// cancellingScreener cancels the caller's context while the sender's lock
// is held.
type cancellingScreener struct {
	*compliance.Screener
	cancel context.CancelFunc
}

func (s *cancellingScreener) Screen(in compliance.Input) models.ComplianceVerdict {
	s.cancel()
	return s.Screener.Screen(in)
}

func TestTransferFundsRecordkeepingWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := memory.NewMemoryLedgerStore()
	store.PutAccount(models.Account{Handle: "A", OwnerID: "alice", Balance: amount("10000.00"), Identity: completeProfile()})
	orch := NewOrchestrator(store, kyc.NewVerifier(store), compliance.NewScreener(compliance.DefaultPolicy()), &fakeRecorder{}, zap.New(core))

	res := orch.TransferFunds(context.Background(), Identity{OwnerID: "alice"}, "B", amount("3000.00"), "x")
	require.Equal(t, OutcomeSuccess, res.Outcome)

	entries := logs.FilterField(zap.String("event", "aml_recordkeeping")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].ContextMap()["sender"])
	assert.Equal(t, "3000.00", entries[0].ContextMap()["amount"])
}

func TestTransferFundsSealedReceipt(t *testing.T) {
	key, err := security.GenerateKey()
	require.NoError(t, err)
	box, err := security.NewSecretBox(key)
	require.NoError(t, err)

	f := newFixture(t, WithSealer(box))
	f.open("A", "alice", "1000.00", completeProfile())

	res := f.orch.TransferFunds(context.Background(), Identity{OwnerID: "alice"}, "B", amount("12.50"), "lunch")
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.NotEmpty(t, res.Receipt)

	sealed, err := base64.StdEncoding.DecodeString(res.Receipt)
	require.NoError(t, err)
	plain, err := box.Open(sealed)
	require.NoError(t, err)

	var got receipt
	require.NoError(t, json.Unmarshal(plain, &got))
	assert.Equal(t, res.TransactionID, got.TransactionID)
	assert.Equal(t, "alice", got.Sender)
	assert.Equal(t, "lunch", got.Reason)
	assert.True(t, got.Amount.Equal(amount("12.50")))
}

func TestTransferFundsRejectionsCarryNoReceipt(t *testing.T) {
	key, err := security.GenerateKey()
	require.NoError(t, err)
	box, err := security.NewSecretBox(key)
	require.NoError(t, err)

	f := newFixture(t, WithSealer(box))
	f.open("C", "carol", "1.00", completeProfile())

	res := f.orch.TransferFunds(context.Background(), Identity{OwnerID: "carol"}, "D", amount("2.00"), "x")
	assert.Equal(t, models.ReasonInsufficientFunds, res.ReasonCode)
	assert.Empty(t, res.Receipt)
}

func TestTransferFundsTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t, WithTracer(tp.Tracer("test")))
	f.open("A", "alice", "1000.00", completeProfile())

	f.orch.TransferFunds(context.Background(), Identity{OwnerID: "alice"}, "B", amount("1.00"), "x")
	f.store.InjectFault(memory.OpDebit, errors.New("down"))
	f.orch.TransferFunds(context.Background(), Identity{OwnerID: "alice"}, "B", amount("1.00"), "x")

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "transfer.TransferFunds", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
