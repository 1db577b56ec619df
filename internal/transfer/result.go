package transfer

import (
	"time"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
)

// State is the pipeline stage a transfer attempt reached.
type State string

const (
	StateReceived          State = "received"
	StateKYCChecked        State = "kyc_checked"
	StateFundsChecked      State = "funds_checked"
	StateComplianceChecked State = "compliance_checked"
	StateCommitted         State = "committed"
	StateRejected          State = "rejected"
)

type Outcome string

const (
	OutcomeSuccess               Outcome = "success"
	OutcomeRejected              Outcome = "rejected"
	OutcomeInfrastructureFailure Outcome = "infrastructure_failure"
)

// Identity is the caller as resolved by the authentication layer.
type Identity struct {
	OwnerID string
}

// Result is the outcome of TransferFunds. Which fields are set depends on
// Outcome:
//
//	success                 TransactionID, Timestamp, Receipt (when a sealer is configured)
//	rejected                ReasonCode, TransactionID unless ReasonCode is InvalidRequest
//	infrastructure_failure  Detail; safe to retry with the same request
type Result struct {
	Outcome       Outcome
	TransactionID string
	Timestamp     time.Time
	Receipt       string
	ReasonCode    models.ReasonCode
	Detail        string
}

func (r Result) Succeeded() bool { return r.Outcome == OutcomeSuccess }

// Retryable reports whether the caller may resend the same request.
func (r Result) Retryable() bool { return r.Outcome == OutcomeInfrastructureFailure }
