package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mockmate/creditgate/internal/interfaces"
	"github.com/mockmate/creditgate/internal/repository"
)

type PaymentHandler struct {
	records interfaces.PaymentRecordStore
}

func NewPaymentHandler(records interfaces.PaymentRecordStore) *PaymentHandler {
	return &PaymentHandler{records: records}
}

// GetPayment handles GET /v1/payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	transactionID := c.Param("id")

	record, err := h.records.GetByTransactionID(c.Request.Context(), transactionID)
	if errors.Is(err, repository.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment record not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch payment record"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetPendingPayments handles GET /v1/payments/pending. The minutes query
// parameter bounds the lookback window, default 30.
func (h *PaymentHandler) GetPendingPayments(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + userIDHeader + " header"})
		return
	}

	minutes := 30
	if raw := c.Query("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid minutes parameter"})
			return
		}
		minutes = parsed
	}

	records, err := h.records.GetPendingByUser(c.Request.Context(), userID, time.Duration(minutes)*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch pending payments"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"pending": records,
	})
}
