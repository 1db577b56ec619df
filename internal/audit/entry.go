package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/models/events"
)

// Entry is one link of the audit chain. Hash covers the event, Sequence and
// PrevHash, so removing, reordering or editing an entry breaks every hash
// after it.
type Entry struct {
	Sequence uint64                   `json:"sequence"`
	Event    events.TransferAttempted `json:"event"`
	PrevHash string                   `json:"prev_hash"`
	Hash     string                   `json:"hash"`
}

func (e Entry) computeHash() (string, error) {
	e.Hash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal audit entry: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain checks that entries form an unbroken chain starting at the
// first entry given.
func VerifyChain(entries []Entry) error {
	for i, e := range entries {
		want, err := e.computeHash()
		if err != nil {
			return err
		}
		if e.Hash != want {
			return fmt.Errorf("audit entry %d: hash mismatch", e.Sequence)
		}
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		if e.PrevHash != prev.Hash {
			return fmt.Errorf("audit entry %d: does not follow entry %d", e.Sequence, prev.Sequence)
		}
		if e.Sequence != prev.Sequence+1 {
			return fmt.Errorf("audit entry %d: sequence gap after %d", e.Sequence, prev.Sequence)
		}
	}
	return nil
}
