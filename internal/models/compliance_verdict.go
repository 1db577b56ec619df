package models

type ComplianceDecision string

const (
	DecisionAllow ComplianceDecision = "allow"
	DecisionBlock ComplianceDecision = "block"
)

// ComplianceVerdict is the aggregated outcome of all screening rules.
type ComplianceVerdict struct {
	Decision              ComplianceDecision
	ReasonCodes           []string
	RecordKeepingRequired bool
}

func (v ComplianceVerdict) Blocked() bool {
	return v.Decision == DecisionBlock
}
