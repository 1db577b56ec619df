package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
)

type seedAccount struct {
	Handle       string `yaml:"handle"`
	Owner        string `yaml:"owner"`
	Balance      string `yaml:"balance"`
	LegalName    string `yaml:"legal_name"`
	Address      string `yaml:"address"`
	DateOfBirth  string `yaml:"date_of_birth"` // YYYY-MM-DD
	GovernmentID string `yaml:"government_id"`
}

// LoadSeed reads the accounts a memory store starts with. Account opening is
// outside the transfer path, so this is the only way to get accounts into
// a memory deployment.
func LoadSeed(path string) ([]models.Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var doc struct {
		Accounts []seedAccount `yaml:"accounts"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	accounts := make([]models.Account, 0, len(doc.Accounts))
	for i, s := range doc.Accounts {
		if s.Handle == "" || s.Owner == "" {
			return nil, fmt.Errorf("seed account %d: handle and owner are required", i)
		}
		balance, err := decimal.NewFromString(s.Balance)
		if err != nil {
			return nil, fmt.Errorf("seed account %s: balance: %w", s.Handle, err)
		}
		if balance.IsNegative() {
			return nil, fmt.Errorf("seed account %s: negative balance", s.Handle)
		}

		acc := models.Account{Handle: s.Handle, OwnerID: s.Owner, Balance: balance}
		if s.LegalName != "" || s.Address != "" || s.DateOfBirth != "" || s.GovernmentID != "" {
			profile := &models.IdentityProfile{
				LegalName:    s.LegalName,
				Address:      s.Address,
				GovernmentID: s.GovernmentID,
			}
			if s.DateOfBirth != "" {
				dob, err := time.Parse(time.DateOnly, s.DateOfBirth)
				if err != nil {
					return nil, fmt.Errorf("seed account %s: date_of_birth: %w", s.Handle, err)
				}
				profile.DateOfBirth = dob
			}
			acc.Identity = profile
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}
