package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// IdentityProfile holds the KYC fields of an account holder.
// None of these values may be written to logs.
type IdentityProfile struct {
	LegalName    string
	Address      string
	DateOfBirth  time.Time
	GovernmentID string
}

// Account is a funded account owned by exactly one caller identity.
// Balance is never negative after a committed transfer.
type Account struct {
	Handle   string
	OwnerID  string
	Balance  decimal.Decimal
	Identity *IdentityProfile
}
