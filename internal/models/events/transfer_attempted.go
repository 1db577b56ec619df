package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferAttempted is emitted once for every transfer attempt that reached
// a business decision or failed on infrastructure.
type TransferAttempted struct {
	TransactionID   string          `json:"transaction_id,omitempty"`
	SenderID        string          `json:"sender_id"`
	SenderAccount   string          `json:"sender_account,omitempty"`
	ReceiverAccount string          `json:"receiver_account"`
	Amount          decimal.Decimal `json:"amount"`
	Outcome         string          `json:"outcome"`
	ReasonCode      string          `json:"reason_code,omitempty"`
	RuleCodes       []string        `json:"rule_codes,omitempty"`
	Step            string          `json:"step"`
	OccurredAt      time.Time       `json:"occurred_at"`
}
