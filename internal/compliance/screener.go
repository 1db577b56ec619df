// Package compliance screens transfers against anti-money-laundering rules.
//
// Every rule runs on every transfer; the verdict blocks when any rule blocks.
// Screening is a pure function of its Input so identical history and request
// parameters always give the same verdict.
package compliance

import (
	"time"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
)

type Screener struct {
	rules    []Rule
	velocity VelocityRule
}

func NewScreener(p Policy) *Screener {
	velocity := VelocityRule{Limit: p.VelocityLimit, Window: p.VelocityWindow}
	return &Screener{
		rules: []Rule{
			RecordkeepingRule{Threshold: p.RecordkeepingThreshold},
			NewHighRiskDestinationRule(p.HighRiskAmount, p.HighRiskAccounts),
			velocity,
		},
		velocity: velocity,
	}
}

// Screen evaluates all rules in order and aggregates their findings.
func (s *Screener) Screen(in Input) models.ComplianceVerdict {
	verdict := models.ComplianceVerdict{Decision: models.DecisionAllow}

	for _, rule := range s.rules {
		p := rule.Evaluate(in)
		if p.RecordKeeping {
			verdict.RecordKeepingRequired = true
		}
		if p.Block {
			verdict.Decision = models.DecisionBlock
			verdict.ReasonCodes = append(verdict.ReasonCodes, p.ReasonCode)
		}
	}

	return verdict
}

// HistorySince is how far back the sender's history must be read for
// Screen to see everything it counts.
func (s *Screener) HistorySince(now time.Time) time.Time {
	return s.velocity.Since(now)
}
