// Package server exposes the settlement engine over HTTP.
package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/gavelhouse/settlement/internal/health"
	"github.com/gavelhouse/settlement/internal/identity"
)

// Handlers collects the endpoint groups the router mounts.
type Handlers struct {
	Auctions *AuctionHandler
	Wallet   *WalletHandler
	Admin    *AdminHandler
	Health   *health.Handler
}

// NewRouter builds the gin engine with logging, recovery, auth, and every
// route mounted.
func NewRouter(logger *slog.Logger, resolver identity.Resolver, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))

	router.GET("/healthz", gin.WrapF(h.Health.LivenessHandler()))
	router.GET("/readyz", gin.WrapF(h.Health.ReadinessHandler()))

	authed := router.Group("/", Auth(resolver))

	auctions := authed.Group("/auctions")
	{
		auctions.POST("", h.Auctions.Create)
		auctions.GET("/:id", h.Auctions.Get)
		auctions.GET("/:id/bids", h.Auctions.ListBids)
		auctions.POST("/:id/join", h.Auctions.Join)
		auctions.POST("/:id/bids", h.Auctions.PlaceBid)
		auctions.POST("/:id/cancel", h.Auctions.Cancel)
		auctions.POST("/:id/pay", h.Auctions.Pay)
	}

	wallet := authed.Group("/wallet")
	{
		wallet.GET("", h.Wallet.Get)
		wallet.POST("/deposits", h.Wallet.Deposit)
		wallet.POST("/withdrawals", h.Wallet.Withdraw)
		wallet.GET("/payments", h.Wallet.Payments)
	}

	admin := authed.Group("/admin", RequireAdmin())
	{
		admin.POST("/finalize-due", h.Admin.FinalizeDue)
		admin.POST("/scan-overdue", h.Admin.ScanOverdue)
		admin.POST("/auctions/:id/refunds", h.Admin.RetryRefunds)
		admin.GET("/rules", h.Admin.GetRules)
		admin.PUT("/rules", h.Admin.SetRule)
	}

	return router
}
