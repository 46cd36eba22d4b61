// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fridayapp/backend/internal/config"
	"github.com/fridayapp/backend/internal/handlers"
	"github.com/fridayapp/backend/internal/middleware"
	"github.com/fridayapp/backend/internal/services"
	"github.com/fridayapp/backend/internal/utils"
)

// Initialize wires services, handlers and middleware into a gin engine.
// The returned sweeper is started by main so its lifetime is tied to
// the process context.
func Initialize(db *gorm.DB, cfg *config.Config, policy services.BillablePolicy) (*gin.Engine, *services.ReservationSweeper) {
	// Initialize services
	ledger := services.NewTokenLedger(db)
	marketplace := services.NewMarketplaceService(db, ledger)
	paymentService := services.NewPaymentService(db, cfg, ledger, marketplace)
	authService := services.NewAuthService(db, cfg)
	adminService := services.NewAdminService(db, ledger)
	callService := services.NewCallService(db, policy)
	presence := services.NewPresenceRegistry()
	scheduler := services.NewBillingScheduler(ledger, callService, policy,
		time.Duration(cfg.Billing.TickInterval)*time.Second)
	sweeper := services.NewReservationSweeper(db, ledger,
		time.Duration(cfg.Billing.SweepInterval)*time.Second,
		time.Duration(cfg.Billing.ReservationMaxAge)*time.Second)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	walletHandler := handlers.NewWalletHandler(ledger)
	marketHandler := handlers.NewMarketHandler(marketplace)
	paymentHandler := handlers.NewPaymentHandler(paymentService, cfg)
	callHandler := handlers.NewCallHandler(callService, scheduler, presence)
	adminHandler := handlers.NewAdminHandler(adminService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.GET("/me", middleware.AuthRequired(), authHandler.GetProfile)
		}

		// Wallet routes
		wallet := v1.Group("/wallet")
		wallet.Use(middleware.AuthRequired())
		{
			wallet.GET("", walletHandler.GetWallet)
			wallet.GET("/history", walletHandler.GetHistory)
		}

		// Token supply is public so the storefront can show availability
		v1.GET("/tokens/supply", walletHandler.GetSupply)

		// Marketplace routes
		market := v1.Group("/marketplace")
		{
			market.GET("/listings", middleware.OptionalAuth(), marketHandler.GetListings)

			protected := market.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("/listings", marketHandler.CreateListing)
				protected.DELETE("/listings/:id", marketHandler.CancelListing)
				protected.GET("/trades", marketHandler.GetTrades)
			}
		}

		// Payment routes
		payments := v1.Group("/payments")
		{
			payments.POST("/checkout", middleware.AuthRequired(), middleware.CheckoutRateLimit(), paymentHandler.CreateCheckout)
			payments.POST("/webhook", paymentHandler.StripeWebhook)
		}

		// Call routes
		calls := v1.Group("/calls")
		calls.Use(middleware.AuthRequired())
		{
			calls.POST("", callHandler.Invite)
			calls.GET("/:id", callHandler.GetCall)
			calls.POST("/:id/answer", callHandler.Answer)
			calls.POST("/:id/end", callHandler.End)
		}

		// Presence routes
		presenceGroup := v1.Group("/presence")
		presenceGroup.Use(middleware.AuthRequired())
		{
			presenceGroup.POST("/connect", callHandler.Connect)
			presenceGroup.POST("/disconnect", callHandler.Disconnect)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.POST("/tokens/mint", adminHandler.MintTokens)
			admin.GET("/settings", adminHandler.GetSettings)
			admin.PUT("/settings/price", adminHandler.SetPrice)
			admin.GET("/stats", adminHandler.GetStats)
		}
	}

	return r, sweeper
}
