package models

// ReasonCode is the stable public code returned for a rejected transfer.
type ReasonCode string

const (
	ReasonInvalidRequest    ReasonCode = "InvalidRequest"
	ReasonKYCFailed         ReasonCode = "KYCFailed"
	ReasonInsufficientFunds ReasonCode = "InsufficientFunds"
	ReasonComplianceBlocked ReasonCode = "ComplianceBlocked"
)
