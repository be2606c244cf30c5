package handler

import (
	"metered-messaging/internal/adapter/http/middleware"
	"metered-messaging/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Ledger         ports.CreditLedger
	Campaigns      ports.CampaignRepository
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/healthz", HealthCheck(deps.HealthCheckers...))

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")

	walletHandler := NewWalletHandler(deps.Ledger)
	wallets := v1.Group("/wallets")
	{
		wallets.GET("/:tenant_id", walletHandler.GetBalance)
		wallets.POST("/:tenant_id/topup", walletHandler.Topup)
	}

	campaignHandler := NewCampaignHandler(deps.Campaigns)
	campaigns := v1.Group("/campaigns")
	{
		campaigns.POST("/:id/pause", campaignHandler.Pause)
		campaigns.POST("/:id/resume", campaignHandler.Resume)
	}

	return r
}
