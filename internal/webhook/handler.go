package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/plushify/plushify/pkg/credit"
)

const (
	eventCheckoutCompleted = "checkout.completed"

	resultAccepted   = "accepted"
	resultIgnored    = "ignored"
	resultRejected   = "rejected"
	resultUnverified = "unverified"
)

// Ledger is the credit surface the handler needs.
type Ledger interface {
	Purchase(ctx context.Context, accountID string, amount int64, orderID string, metadata credit.Metadata) (int64, error)
}

// EventObserver receives the disposition of each delivered event.
type EventObserver func(result string)

type event struct {
	Type string    `json:"type"`
	Data eventData `json:"data"`
}

type eventData struct {
	ID       string        `json:"id"`
	Metadata eventMetadata `json:"metadata"`
}

type eventMetadata struct {
	AccountID string `json:"accountId"`
	PlanID    string `json:"planId"`
}

// Handler verifies and applies payment-provider webhook deliveries.
type Handler struct {
	secret   string
	plans    PlanTable
	ledger   Ledger
	logger   *zap.Logger
	observer EventObserver
}

// NewHandler wires a Handler. An empty secret is permitted and makes every
// delivery fail with 500 until one is configured.
func NewHandler(secret string, plans PlanTable, ledger Ledger, logger *zap.Logger, observer EventObserver) *Handler {
	if plans == nil {
		plans = DefaultPlans()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{secret: secret, plans: plans, ledger: ledger, logger: logger, observer: observer}
}

// Handle processes POST /webhooks/payment.
func (handler *Handler) Handle(ctx *gin.Context) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		handler.respond(ctx, http.StatusBadRequest, resultRejected, "unreadable body")
		return
	}

	presented := ctx.GetHeader(SignatureHeader)
	if presented == "" {
		handler.respond(ctx, http.StatusUnauthorized, resultUnverified, "missing signature")
		return
	}
	if handler.secret == "" {
		handler.logger.Error("webhook secret not configured")
		handler.respond(ctx, http.StatusInternalServerError, resultUnverified, "webhook secret not configured")
		return
	}
	if !VerifySignature(handler.secret, body, presented) {
		handler.respond(ctx, http.StatusUnauthorized, resultUnverified, "invalid signature")
		return
	}

	var delivered event
	if err := json.Unmarshal(body, &delivered); err != nil {
		handler.respond(ctx, http.StatusBadRequest, resultRejected, "malformed payload")
		return
	}
	if delivered.Type != eventCheckoutCompleted {
		handler.respond(ctx, http.StatusOK, resultIgnored, "event ignored")
		return
	}
	accountID := delivered.Data.Metadata.AccountID
	planID := delivered.Data.Metadata.PlanID
	if accountID == "" || planID == "" {
		handler.respond(ctx, http.StatusBadRequest, resultRejected, "missing accountId or planId")
		return
	}
	amount, known := handler.plans.Credits(planID)
	if !known {
		handler.respond(ctx, http.StatusBadRequest, resultRejected, "unknown plan")
		return
	}
	if delivered.Data.ID == "" {
		handler.respond(ctx, http.StatusBadRequest, resultRejected, "missing checkout id")
		return
	}

	metadata := credit.Metadata{"planId": planID, "checkoutId": delivered.Data.ID}
	balance, err := handler.ledger.Purchase(ctx.Request.Context(), accountID, amount, delivered.Data.ID, metadata)
	if err != nil {
		if errors.Is(err, credit.ErrAccountNotFound) {
			handler.respond(ctx, http.StatusNotFound, resultRejected, "account not found")
			return
		}
		handler.logger.Error("webhook purchase failed",
			zap.String("account_id", accountID),
			zap.String("plan_id", planID),
			zap.Error(err))
		handler.respond(ctx, http.StatusInternalServerError, resultRejected, "purchase failed")
		return
	}

	handler.logger.Info("webhook purchase applied",
		zap.String("account_id", accountID),
		zap.String("plan_id", planID),
		zap.Int64("credits", amount),
		zap.Int64("balance", balance))
	handler.observe(resultAccepted)
	ctx.JSON(http.StatusOK, gin.H{"status": "ok", "balance": balance})
}

func (handler *Handler) respond(ctx *gin.Context, status int, result string, message string) {
	handler.observe(result)
	if status == http.StatusOK {
		ctx.JSON(status, gin.H{"status": "ok", "message": message})
		return
	}
	ctx.JSON(status, gin.H{"error": message})
}

func (handler *Handler) observe(result string) {
	if handler.observer != nil {
		handler.observer(result)
	}
}
