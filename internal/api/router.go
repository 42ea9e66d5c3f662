package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mockmate/creditgate/internal/handlers"
	"github.com/mockmate/creditgate/internal/interfaces"
	"github.com/mockmate/creditgate/internal/service"
	"github.com/mockmate/creditgate/internal/telemetry"
)

func NewRouter(gate *service.UsageGate, ledger interfaces.CreditLedger, records interfaces.PaymentRecordStore) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "creditgate"})
	})

	usageHandler := handlers.NewUsageHandler(gate, ledger)
	paymentHandler := handlers.NewPaymentHandler(records)

	v1 := r.Group("/v1")
	{
		v1.POST("/usage/check", usageHandler.CheckUsage)
		v1.GET("/credits/balance", usageHandler.GetBalance)
		v1.GET("/payments/pending", paymentHandler.GetPendingPayments)
		v1.GET("/payments/:id", paymentHandler.GetPayment)
	}

	return r
}
