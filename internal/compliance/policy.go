package compliance

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Policy holds the screening constants. It is read once at startup and
// never changed while the process runs.
type Policy struct {
	RecordkeepingThreshold decimal.Decimal
	HighRiskAmount         decimal.Decimal
	VelocityLimit          int
	// VelocityWindow limits which prior transactions count toward the
	// velocity rule. Zero counts all-time history.
	VelocityWindow   time.Duration
	HighRiskAccounts []string
}

func DefaultPolicy() Policy {
	return Policy{
		RecordkeepingThreshold: decimal.NewFromInt(3000),
		HighRiskAmount:         decimal.NewFromInt(5000),
		VelocityLimit:          3,
		HighRiskAccounts:       []string{"high-risk-account"},
	}
}

func (p Policy) Validate() error {
	var errs []error
	if !p.RecordkeepingThreshold.IsPositive() {
		errs = append(errs, errors.New("recordkeeping threshold must be positive"))
	}
	if !p.HighRiskAmount.IsPositive() {
		errs = append(errs, errors.New("high-risk amount must be positive"))
	}
	if p.VelocityLimit < 1 {
		errs = append(errs, errors.New("velocity limit must be at least 1"))
	}
	if p.VelocityWindow < 0 {
		errs = append(errs, errors.New("velocity window must not be negative"))
	}
	return errors.Join(errs...)
}
