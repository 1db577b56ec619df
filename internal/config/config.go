package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/compliance"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string

	Store       string
	DatabaseDSN string
	SeedFile    string // loaded by serve (memory) or migrate (postgres)

	RedisAddr   string // empty means in-process locks
	LockTimeout time.Duration

	KafkaBrokers []string // empty disables the Kafka audit sink
	AuditTopic   string
	AuditLogPath string // empty disables the file audit sink

	ReceiptKey string // hex encoded; empty disables sealed receipts

	Policy compliance.Policy
}

// Load reads .env (if present), then the policy file, then the environment.
// Later sources win. The result is validated and must not be changed
// afterwards.
func Load() (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	cfg := &Config{
		Env:          getEnv("ENV", "development"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		Store:        strings.ToLower(getEnv("STORE", StoreMemory)),
		DatabaseDSN:  getEnv("DATABASE_DSN", ""),
		SeedFile:     getEnv("SEED_FILE", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		AuditTopic:   getEnv("AUDIT_TOPIC", "transfer_audit"),
		AuditLogPath: getEnv("AUDIT_LOG_PATH", "audit.log"),
		ReceiptKey:   getEnv("RECEIPT_KEY", ""),
		Policy:       compliance.DefaultPolicy(),
	}

	var errs []error

	lockTimeout, err := time.ParseDuration(getEnv("LOCK_TIMEOUT", "5s"))
	if err != nil {
		errs = append(errs, fmt.Errorf("LOCK_TIMEOUT: %w", err))
	}
	cfg.LockTimeout = lockTimeout

	if path := getEnv("POLICY_FILE", ""); path != "" {
		if err := loadPolicyFile(path, &cfg.Policy); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, applyPolicyEnv(&cfg.Policy)...)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required when STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("LOCK_TIMEOUT must be positive"))
	}
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}
	return errors.Join(errs...)
}

// policyFile is the on-disk shape of POLICY_FILE. Amounts are strings so
// they parse exactly.
type policyFile struct {
	RecordkeepingThreshold string   `yaml:"recordkeeping_threshold"`
	HighRiskAmount         string   `yaml:"high_risk_amount"`
	VelocityLimit          *int     `yaml:"velocity_limit"`
	VelocityWindow         string   `yaml:"velocity_window"`
	HighRiskAccounts       []string `yaml:"high_risk_accounts"`
}

func loadPolicyFile(path string, p *compliance.Policy) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	var f policyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}

	var errs []error
	if f.RecordkeepingThreshold != "" {
		v, err := decimal.NewFromString(f.RecordkeepingThreshold)
		errs = append(errs, wrap("recordkeeping_threshold", err))
		p.RecordkeepingThreshold = v
	}
	if f.HighRiskAmount != "" {
		v, err := decimal.NewFromString(f.HighRiskAmount)
		errs = append(errs, wrap("high_risk_amount", err))
		p.HighRiskAmount = v
	}
	if f.VelocityLimit != nil {
		p.VelocityLimit = *f.VelocityLimit
	}
	if f.VelocityWindow != "" {
		v, err := time.ParseDuration(f.VelocityWindow)
		errs = append(errs, wrap("velocity_window", err))
		p.VelocityWindow = v
	}
	if f.HighRiskAccounts != nil {
		p.HighRiskAccounts = f.HighRiskAccounts
	}
	return errors.Join(errs...)
}

func applyPolicyEnv(p *compliance.Policy) []error {
	var errs []error
	if v, ok := os.LookupEnv("RECORDKEEPING_THRESHOLD"); ok {
		d, err := decimal.NewFromString(v)
		errs = append(errs, wrap("RECORDKEEPING_THRESHOLD", err))
		p.RecordkeepingThreshold = d
	}
	if v, ok := os.LookupEnv("HIGH_RISK_AMOUNT"); ok {
		d, err := decimal.NewFromString(v)
		errs = append(errs, wrap("HIGH_RISK_AMOUNT", err))
		p.HighRiskAmount = d
	}
	if v, ok := os.LookupEnv("VELOCITY_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		errs = append(errs, wrap("VELOCITY_LIMIT", err))
		p.VelocityLimit = n
	}
	if v, ok := os.LookupEnv("VELOCITY_WINDOW"); ok {
		d, err := time.ParseDuration(v)
		errs = append(errs, wrap("VELOCITY_WINDOW", err))
		p.VelocityWindow = d
	}
	if v, ok := os.LookupEnv("HIGH_RISK_ACCOUNTS"); ok {
		p.HighRiskAccounts = splitList(v)
	}
	return errs
}

func wrap(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}

// getEnv returns the value of key, or fallback when it is unset.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
