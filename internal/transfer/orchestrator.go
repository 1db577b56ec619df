// Package transfer runs the funds-transfer pipeline:
//
//	Received -> KYCChecked -> FundsChecked -> ComplianceChecked -> Committed | Rejected
//
// The funds check, compliance screen, debit and record creation run under
// the sender's account lock as one atomic unit. Every attempt that gets past
// input validation leaves a Transaction record, committed or rejected, unless
// storage fails, in which case nothing is written and the caller may retry.
package transfer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/compliance"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/logger"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/models/events"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/security"
)

const tracerName = "github.com/sheikh-saqib/funds-transfer-engine/internal/transfer"

type Verifier interface {
	Verify(ctx context.Context, accountID string) (bool, error)
}

type Screener interface {
	Screen(in compliance.Input) models.ComplianceVerdict
	HistorySince(now time.Time) time.Time
}

type AuditRecorder interface {
	Record(event events.TransferAttempted)
}

type Orchestrator struct {
	store    interfaces.LedgerStore
	kyc      Verifier
	screener Screener
	audit    AuditRecorder
	sealer   security.Sealer
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Orchestrator)

// WithSealer enables sealed receipts on successful transfers.
func WithSealer(s security.Sealer) Option {
	return func(o *Orchestrator) { o.sealer = s }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(
	store interfaces.LedgerStore,
	kyc Verifier,
	screener Screener,
	audit AuditRecorder,
	log *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		store:    store,
		kyc:      kyc,
		screener: screener,
		audit:    audit,
		logger:   log,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// attempt carries one request through the pipeline.
type attempt struct {
	req           models.TransferRequest
	senderAccount string
	state         State
	record        models.Transaction
	ruleCodes     []string
	log           *zap.Logger
}

// TransferFunds moves amount from the caller's account to receiver.
// Business rejections and infrastructure failures are both reported in the
// Result; the two are never conflated.
func (o *Orchestrator) TransferFunds(ctx context.Context, caller Identity, receiver string, amount decimal.Decimal, reason string) Result {
	req := models.TransferRequest{
		SenderID:        strings.TrimSpace(caller.OwnerID),
		ReceiverAccount: strings.TrimSpace(receiver),
		Amount:          amount,
		Reason:          strings.TrimSpace(reason),
	}

	ctx, span := o.tracer.Start(ctx, "transfer.TransferFunds", trace.WithAttributes(
		attribute.String("transfer.sender", req.SenderID),
		attribute.String("transfer.receiver", req.ReceiverAccount),
		attribute.String("transfer.amount", req.Amount.StringFixed(2)),
	))
	defer span.End()

	a := &attempt{
		req:   req,
		state: StateReceived,
		log:   o.logger.With(logger.Transfer(req.SenderID, req.ReceiverAccount, req.Amount)...),
	}

	result := o.execute(ctx, a)

	span.SetAttributes(
		attribute.String("transfer.outcome", string(result.Outcome)),
		attribute.String("transfer.state", string(a.state)),
	)
	if result.ReasonCode != "" {
		span.SetAttributes(attribute.String("transfer.reason_code", string(result.ReasonCode)))
	}
	if result.Outcome == OutcomeInfrastructureFailure {
		span.SetStatus(codes.Error, result.Detail)
	}
	return result
}

func (o *Orchestrator) execute(ctx context.Context, a *attempt) Result {
	if err := a.req.Validate(); err != nil {
		return o.invalid(a, err)
	}

	sender, err := o.store.FindAccountByOwner(ctx, a.req.SenderID)
	if errors.Is(err, models.ErrAccountNotFound) {
		return o.invalid(a, errors.New("caller has no account"))
	}
	if err != nil {
		return o.infrastructureFailure(a, err)
	}
	a.senderAccount = sender.Handle
	a.log = a.log.With(zap.String("sender_account", sender.Handle))

	if sender.Handle == a.req.ReceiverAccount {
		return o.invalid(a, errors.New("sender and receiver are the same account"))
	}

	verified, err := o.kyc.Verify(ctx, sender.Handle)
	if err != nil {
		return o.infrastructureFailure(a, err)
	}
	if !verified {
		return o.rejectKYC(ctx, a)
	}
	a.state = StateKYCChecked

	var (
		result Result
		final  State
	)
	err = o.store.WithAccountLock(ctx, sender.Handle, func(ctx context.Context, tx interfaces.AccountTx) error {
		var err error
		result, final, err = o.decide(ctx, a, tx)
		return err
	})
	if err != nil {
		return o.infrastructureFailure(a, err)
	}
	a.state = final

	if result.Outcome == OutcomeSuccess {
		result.Receipt = o.seal(a)
		a.log.Info("transfer committed",
			zap.String("transaction_id", result.TransactionID),
			zap.Time("timestamp", result.Timestamp),
		)
	} else {
		o.logRejection(a, result.ReasonCode)
	}

	o.emit(a, result)
	return result
}

// decide runs under the sender's account lock. It returns the business
// outcome and the state the attempt ends in; an error aborts the unit.
func (o *Orchestrator) decide(ctx context.Context, a *attempt, tx interfaces.AccountTx) (Result, State, error) {
	acc := tx.Account()
	if acc.Balance.LessThan(a.req.Amount) {
		return o.reject(ctx, a, tx, models.ReasonInsufficientFunds, nil)
	}
	a.state = StateFundsChecked

	now := o.now()
	history, err := tx.History(ctx, o.screener.HistorySince(now))
	if err != nil {
		return Result{}, "", err
	}

	verdict := o.screener.Screen(compliance.Input{
		SenderID:        a.req.SenderID,
		ReceiverAccount: a.req.ReceiverAccount,
		Amount:          a.req.Amount,
		History:         history,
		Now:             now,
	})
	if verdict.RecordKeepingRequired {
		a.log.Warn("aml recordkeeping: transfer at or above reporting threshold",
			zap.String("event", "aml_recordkeeping"),
		)
	}
	if verdict.Blocked() {
		return o.reject(ctx, a, tx, models.ReasonComplianceBlocked, verdict.ReasonCodes)
	}
	a.state = StateComplianceChecked

	if err := tx.Debit(ctx, a.req.Amount); err != nil {
		if errors.Is(err, models.ErrInsufficientFunds) {
			return o.reject(ctx, a, tx, models.ReasonInsufficientFunds, nil)
		}
		return Result{}, "", err
	}

	rec, err := tx.CreateTransaction(ctx, models.Transaction{
		SenderID:        a.req.SenderID,
		ReceiverAccount: a.req.ReceiverAccount,
		Amount:          a.req.Amount,
		Reason:          a.req.Reason,
		Status:          models.TransactionCommitted,
	})
	if err != nil {
		return Result{}, "", err
	}
	a.record = rec

	return Result{
		Outcome:       OutcomeSuccess,
		TransactionID: rec.ID,
		Timestamp:     rec.CreatedAt,
	}, StateCommitted, nil
}

func (o *Orchestrator) reject(ctx context.Context, a *attempt, tx interfaces.AccountTx, code models.ReasonCode, ruleCodes []string) (Result, State, error) {
	rec, err := tx.CreateTransaction(ctx, models.Transaction{
		SenderID:        a.req.SenderID,
		ReceiverAccount: a.req.ReceiverAccount,
		Amount:          a.req.Amount,
		Reason:          a.req.Reason,
		Status:          models.TransactionRejected,
		RejectionReason: code,
		ReasonCodes:     ruleCodes,
	})
	if err != nil {
		return Result{}, "", err
	}
	a.record = rec
	a.ruleCodes = ruleCodes

	return Result{
		Outcome:       OutcomeRejected,
		ReasonCode:    code,
		TransactionID: rec.ID,
		Timestamp:     rec.CreatedAt,
	}, StateRejected, nil
}

// rejectKYC records a KYC rejection through the same locked unit as every
// other record.
func (o *Orchestrator) rejectKYC(ctx context.Context, a *attempt) Result {
	var result Result
	err := o.store.WithAccountLock(ctx, a.senderAccount, func(ctx context.Context, tx interfaces.AccountTx) error {
		var err error
		result, _, err = o.reject(ctx, a, tx, models.ReasonKYCFailed, nil)
		return err
	})
	if err != nil {
		return o.infrastructureFailure(a, err)
	}
	a.state = StateRejected

	o.logRejection(a, result.ReasonCode)
	o.emit(a, result)
	return result
}

func (o *Orchestrator) invalid(a *attempt, err error) Result {
	a.state = StateRejected
	a.log.Info("transfer rejected: invalid request",
		zap.String("reason_code", string(models.ReasonInvalidRequest)),
		zap.Error(err),
	)
	return Result{Outcome: OutcomeRejected, ReasonCode: models.ReasonInvalidRequest}
}

func (o *Orchestrator) infrastructureFailure(a *attempt, err error) Result {
	detail := "storage unavailable, retry later"
	if errors.Is(err, models.ErrLockTimeout) {
		detail = "account busy, retry later"
	}

	a.log.Error("transfer failed: infrastructure",
		zap.String("step", string(a.state)),
		zap.Bool("classified", models.IsInfrastructure(err)),
		zap.Error(err),
	)

	result := Result{Outcome: OutcomeInfrastructureFailure, Detail: detail}
	o.emit(a, result)
	return result
}

func (o *Orchestrator) logRejection(a *attempt, code models.ReasonCode) {
	a.log.Warn("transfer rejected",
		zap.String("reason_code", string(code)),
		zap.String("step", string(a.state)),
		zap.Strings("rule_codes", a.ruleCodes),
		zap.String("transaction_id", a.record.ID),
	)
}

func (o *Orchestrator) emit(a *attempt, result Result) {
	if o.audit == nil {
		return
	}

	occurredAt := result.Timestamp
	if occurredAt.IsZero() {
		occurredAt = o.now().UTC()
	}

	o.audit.Record(events.TransferAttempted{
		TransactionID:   result.TransactionID,
		SenderID:        a.req.SenderID,
		SenderAccount:   a.senderAccount,
		ReceiverAccount: a.req.ReceiverAccount,
		Amount:          a.req.Amount,
		Outcome:         string(result.Outcome),
		ReasonCode:      string(result.ReasonCode),
		RuleCodes:       a.ruleCodes,
		Step:            string(a.state),
		OccurredAt:      occurredAt,
	})
}

type receipt struct {
	TransactionID   string          `json:"transaction_id"`
	Sender          string          `json:"sender"`
	ReceiverAccount string          `json:"receiver_account"`
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason"`
	Timestamp       time.Time       `json:"timestamp"`
}

// seal returns the sealed receipt for a committed transfer, or "" when no
// sealer is configured or sealing fails. The transfer stands either way.
func (o *Orchestrator) seal(a *attempt) string {
	if o.sealer == nil {
		return ""
	}

	raw, err := json.Marshal(receipt{
		TransactionID:   a.record.ID,
		Sender:          a.req.SenderID,
		ReceiverAccount: a.req.ReceiverAccount,
		Amount:          a.req.Amount,
		Reason:          a.req.Reason,
		Timestamp:       a.record.CreatedAt,
	})
	if err == nil {
		var sealed []byte
		sealed, err = o.sealer.Seal(raw)
		if err == nil {
			return base64.StdEncoding.EncodeToString(sealed)
		}
	}

	a.log.Error("receipt sealing failed", zap.String("transaction_id", a.record.ID), zap.Error(err))
	return ""
}
