// Package kyc decides whether an account holder's identity profile is
// complete enough to move money.
package kyc

import (
	"context"
	"fmt"
	"strings"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
)

type AccountReader interface {
	GetAccount(ctx context.Context, handle string) (models.Account, error)
}

type Verifier struct {
	accounts AccountReader
}

func NewVerifier(accounts AccountReader) *Verifier {
	return &Verifier{accounts: accounts}
}

// Verify reports whether the account's identity profile is complete. An
// unknown account is not verified. Read failures are returned as errors so
// the caller can tell them apart from a failed check.
func (v *Verifier) Verify(ctx context.Context, accountID string) (bool, error) {
	acc, err := v.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("kyc: load account: %w", err)
	}
	return Complete(acc.Identity), nil
}

// Complete reports whether all four KYC fields are populated.
func Complete(p *models.IdentityProfile) bool {
	if p == nil {
		return false
	}
	return strings.TrimSpace(p.LegalName) != "" &&
		strings.TrimSpace(p.Address) != "" &&
		!p.DateOfBirth.IsZero() &&
		strings.TrimSpace(p.GovernmentID) != ""
}
