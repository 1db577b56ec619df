// Package httpapi is the collaborator layer in front of the transfer core.
// Authentication happens upstream; the gateway forwards the verified caller
// in IdentityHeader and this package never sees credentials.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/ledger"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/transfer"
)

// IdentityHeader carries the authenticated caller's owner id.
const IdentityHeader = "X-Authenticated-User"

const callerKey = "caller"

type Transferer interface {
	TransferFunds(ctx context.Context, caller transfer.Identity, receiver string, amount decimal.Decimal, reason string) transfer.Result
}

type AccountQuerier interface {
	GetBalance(ctx context.Context, ownerID string) (ledger.Statement, error)
	GetTransactions(ctx context.Context, ownerID string) ([]models.Transaction, error)
}

type Handler struct {
	transfers Transferer
	accounts  AccountQuerier
	logger    *zap.Logger
	timeout   time.Duration
}

type Option func(*Handler)

// WithTransferTimeout bounds how long a request waits before the sender's
// account lock is held. Work under the lock is not cut short by it.
func WithTransferTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

func NewHandler(transfers Transferer, accounts AccountQuerier, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		transfers: transfers,
		accounts:  accounts,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewApp builds the fiber app with every route mounted.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          h.errorHandler,
		// values read from the request outlive it in records and audit events
		Immutable: true,
	})

	app.Get("/health", h.Health)

	app.Post("/wire_transfer", h.RequireIdentity, h.WireTransfer)
	app.Get("/accounts/balance", h.RequireIdentity, h.Balance)
	app.Get("/transactions", h.RequireIdentity, h.Transactions)

	return app
}

type wireTransferRequest struct {
	ReceiverAccount string          `json:"receiver_account"`
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason"`
}

type wireTransferResponse struct {
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
	Receipt       string    `json:"receipt,omitempty"`
}

type failureResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// RequireIdentity rejects requests the gateway did not authenticate.
func (h *Handler) RequireIdentity(c *fiber.Ctx) error {
	caller := utils.CopyString(strings.TrimSpace(c.Get(IdentityHeader)))
	if caller == "" {
		return c.Status(http.StatusUnauthorized).JSON(failureResponse{
			Status:  "failure",
			Code:    "Unauthenticated",
			Message: "missing caller identity",
		})
	}
	c.Locals(callerKey, caller)
	return c.Next()
}

func (h *Handler) WireTransfer(c *fiber.Ctx) error {
	var req wireTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, http.StatusBadRequest, string(models.ReasonInvalidRequest), "invalid request body")
	}

	ctx := c.UserContext()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res := h.transfers.TransferFunds(ctx, transfer.Identity{OwnerID: caller(c)}, req.ReceiverAccount, req.Amount, req.Reason)

	switch res.Outcome {
	case transfer.OutcomeSuccess:
		return c.Status(http.StatusOK).JSON(wireTransferResponse{
			Status:        "success",
			TransactionID: res.TransactionID,
			Timestamp:     res.Timestamp,
			Receipt:       res.Receipt,
		})
	case transfer.OutcomeRejected:
		status, message := rejection(res.ReasonCode)
		return fail(c, status, string(res.ReasonCode), message)
	default:
		c.Set(fiber.HeaderRetryAfter, "1")
		return fail(c, http.StatusServiceUnavailable, "InfrastructureFailure", res.Detail)
	}
}

// rejection maps public reason codes to HTTP. Internal rule codes never
// reach this layer.
func rejection(code models.ReasonCode) (int, string) {
	switch code {
	case models.ReasonKYCFailed:
		return http.StatusForbidden, "KYC verification failed"
	case models.ReasonInsufficientFunds:
		return http.StatusBadRequest, "insufficient funds"
	case models.ReasonComplianceBlocked:
		return http.StatusForbidden, "transaction flagged for compliance review"
	default:
		return http.StatusBadRequest, "invalid request"
	}
}

func (h *Handler) Balance(c *fiber.Ctx) error {
	st, err := h.accounts.GetBalance(c.UserContext(), caller(c))
	if err != nil {
		return h.queryError(c, err)
	}
	return c.JSON(st)
}

func (h *Handler) Transactions(c *fiber.Ctx) error {
	txs, err := h.accounts.GetTransactions(c.UserContext(), caller(c))
	if err != nil {
		return h.queryError(c, err)
	}
	return c.JSON(fiber.Map{"transactions": txs})
}

func (h *Handler) queryError(c *fiber.Ctx, err error) error {
	if errors.Is(err, models.ErrAccountNotFound) {
		return fail(c, http.StatusNotFound, "AccountNotFound", "no account for caller")
	}
	h.logger.Error("account query failed", zap.String("caller", caller(c)), zap.String("path", c.Path()), zap.Error(err))
	if models.IsInfrastructure(err) {
		c.Set(fiber.HeaderRetryAfter, "1")
		return fail(c, http.StatusServiceUnavailable, "InfrastructureFailure", "storage unavailable, retry later")
	}
	return fail(c, http.StatusInternalServerError, "InternalError", "internal error")
}

func (h *Handler) errorHandler(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return fail(c, status, http.StatusText(status), http.StatusText(status))
}

func fail(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(failureResponse{Status: "failure", Code: code, Message: message})
}

func caller(c *fiber.Ctx) string {
	s, _ := c.Locals(callerKey).(string)
	return s
}
