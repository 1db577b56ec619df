package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionCommitted TransactionStatus = "committed"
	TransactionRejected  TransactionStatus = "rejected"
)

// Transaction is the immutable record of one transfer attempt.
// RejectionReason is set iff Status is TransactionRejected. ReasonCodes
// carries internal compliance rule identifiers and stays inside the audit trail.
type Transaction struct {
	ID              string            `json:"id"`
	SenderAccount   string            `json:"sender_account"`
	SenderID        string            `json:"sender_id"`
	ReceiverAccount string            `json:"receiver_account"`
	Amount          decimal.Decimal   `json:"amount"`
	Reason          string            `json:"reason"`
	Status          TransactionStatus `json:"status"`
	RejectionReason ReasonCode        `json:"rejection_reason,omitempty"`
	ReasonCodes     []string          `json:"-"`
	CreatedAt       time.Time         `json:"created_at"`
}
