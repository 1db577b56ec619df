package models

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	MaxReasonLength  = 255
	MaxHandleLength  = 64
	AmountScale      = 2
	maxAmountDigits  = 20
	maxIntegerDigits = maxAmountDigits - AmountScale
)

// TransferRequest is the inbound intent to move Amount from the caller's
// account to ReceiverAccount. It is never persisted as-is.
type TransferRequest struct {
	SenderID        string
	ReceiverAccount string
	Amount          decimal.Decimal
	Reason          string
}

func (r TransferRequest) Validate() error {
	var errs []error

	if strings.TrimSpace(r.SenderID) == "" {
		errs = append(errs, errors.New("sender is required"))
	}

	receiver := strings.TrimSpace(r.ReceiverAccount)
	switch {
	case receiver == "":
		errs = append(errs, errors.New("receiver account is required"))
	case utf8.RuneCountInString(receiver) > MaxHandleLength:
		errs = append(errs, fmt.Errorf("receiver account exceeds %d characters", MaxHandleLength))
	}

	if !r.Amount.IsPositive() {
		errs = append(errs, errors.New("amount must be positive"))
	} else {
		if !r.Amount.Equal(r.Amount.Truncate(AmountScale)) {
			errs = append(errs, fmt.Errorf("amount has more than %d decimal places", AmountScale))
		}
		if len(r.Amount.Truncate(0).String()) > maxIntegerDigits {
			errs = append(errs, errors.New("amount is too large"))
		}
	}

	if utf8.RuneCountInString(r.Reason) > MaxReasonLength {
		errs = append(errs, fmt.Errorf("reason exceeds %d characters", MaxReasonLength))
	}

	return errors.Join(errs...)
}
