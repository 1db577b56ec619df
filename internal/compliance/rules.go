package compliance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
)

// Rule codes recorded on blocked transactions and in the audit trail. They
// never leave the service in a transfer response.
const (
	CodeHighRiskDestination = "AML_HIGH_RISK_DESTINATION"
	CodeVelocity            = "AML_VELOCITY"
)

// Input is everything a rule may look at. History holds the sender's prior
// transactions as read under the sender's account lock.
type Input struct {
	SenderID        string
	ReceiverAccount string
	Amount          decimal.Decimal
	History         []models.Transaction
	Now             time.Time
}

// Partial is one rule's contribution to the verdict.
type Partial struct {
	Block         bool
	ReasonCode    string
	RecordKeeping bool
}

type Rule interface {
	Name() string
	Evaluate(in Input) Partial
}

// RecordkeepingRule flags transfers at or above the regulatory threshold
// for special logging. It never blocks.
type RecordkeepingRule struct {
	Threshold decimal.Decimal
}

func (RecordkeepingRule) Name() string { return "recordkeeping" }

func (r RecordkeepingRule) Evaluate(in Input) Partial {
	return Partial{RecordKeeping: in.Amount.GreaterThanOrEqual(r.Threshold)}
}

// HighRiskDestinationRule blocks large transfers to listed accounts.
type HighRiskDestinationRule struct {
	Amount   decimal.Decimal
	Accounts map[string]struct{}
}

func NewHighRiskDestinationRule(amount decimal.Decimal, accounts []string) HighRiskDestinationRule {
	set := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		set[a] = struct{}{}
	}
	return HighRiskDestinationRule{Amount: amount, Accounts: set}
}

func (HighRiskDestinationRule) Name() string { return "high_risk_destination" }

func (r HighRiskDestinationRule) Evaluate(in Input) Partial {
	if !in.Amount.GreaterThan(r.Amount) {
		return Partial{}
	}
	if _, listed := r.Accounts[in.ReceiverAccount]; !listed {
		return Partial{}
	}
	return Partial{Block: true, ReasonCode: CodeHighRiskDestination}
}

// VelocityRule blocks a sender whose committed transaction count has reached
// Limit. With a zero Window every prior transaction counts.
type VelocityRule struct {
	Limit  int
	Window time.Duration
}

func (VelocityRule) Name() string { return "velocity" }

func (r VelocityRule) Evaluate(in Input) Partial {
	since := r.Since(in.Now)

	count := 0
	for _, tx := range in.History {
		if tx.Status != models.TransactionCommitted || tx.CreatedAt.Before(since) {
			continue
		}
		count++
	}

	if count < r.Limit {
		return Partial{}
	}
	return Partial{Block: true, ReasonCode: CodeVelocity}
}

// Since is the oldest timestamp that still counts at now.
func (r VelocityRule) Since(now time.Time) time.Time {
	if r.Window <= 0 {
		return time.Time{}
	}
	return now.Add(-r.Window)
}
