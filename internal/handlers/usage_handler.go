package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mockmate/creditgate/internal/interfaces"
	"github.com/mockmate/creditgate/internal/models"
	"github.com/mockmate/creditgate/internal/service"
	"github.com/mockmate/creditgate/internal/telemetry"
	"github.com/mockmate/creditgate/internal/x402"
)

const (
	userIDHeader  = "X-User-ID"
	paymentHeader = "X-PAYMENT"
)

type UsageHandler struct {
	gate   *service.UsageGate
	ledger interfaces.CreditLedger
}

func NewUsageHandler(gate *service.UsageGate, ledger interfaces.CreditLedger) *UsageHandler {
	return &UsageHandler{gate: gate, ledger: ledger}
}

// CheckUsage handles POST /v1/usage/check. Callers carrying an X-PAYMENT
// header get their payment settled first; callers without enough credits
// get a 402 with machine-readable payment requirements.
func (h *UsageHandler) CheckUsage(c *gin.Context) {
	var req models.UsageCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Cost <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cost must be positive"})
		return
	}

	userID := c.GetHeader(userIDHeader)

	var proof *x402.PaymentPayload
	if header := c.GetHeader(paymentHeader); header != "" {
		decoded, err := x402.DecodePaymentHeader(header)
		if err != nil {
			telemetry.Logger.Warn("Rejected malformed payment header",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		proof = decoded
	}

	result, err := h.gate.CheckUsage(c.Request.Context(), userID, req.Action, req.Cost, proof)
	if err != nil {
		if errors.Is(err, x402.ErrInvalidFormat) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		telemetry.Logger.Error("Usage check failed",
			zap.String("user_id", userID),
			zap.String("action", req.Action),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage check failed"})
		return
	}

	if !result.Allowed && result.PaymentRequired != nil {
		c.JSON(http.StatusPaymentRequired, result.PaymentRequired)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetBalance handles GET /v1/credits/balance.
func (h *UsageHandler) GetBalance(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + userIDHeader + " header"})
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"balance": balance,
	})
}
