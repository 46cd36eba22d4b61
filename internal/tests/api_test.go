// internal/tests/api_test.go
package tests

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v74/webhook"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fridayapp/backend/internal/config"
	"github.com/fridayapp/backend/internal/handlers"
	"github.com/fridayapp/backend/internal/middleware"
	"github.com/fridayapp/backend/internal/models"
	"github.com/fridayapp/backend/internal/services"
	"github.com/fridayapp/backend/internal/utils"
)

type APITestSuite struct {
	suite.Suite
	db     *gorm.DB
	router *gin.Engine
	cfg    *config.Config
	ledger *services.TokenLedger
	seq    int
}

func (s *APITestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err)
	sqlDB, err := db.DB()
	require.NoError(s.T(), err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(s.T(), db.AutoMigrate(
		&models.User{}, &models.Token{}, &models.Listing{}, &models.Trade{},
		&models.Payment{}, &models.LedgerEntry{}, &models.Call{}, &models.Settings{},
	))
	require.NoError(s.T(), db.Create(&models.Settings{ID: 1, UnitPriceCents: 1999, TokenMinutes: 60}).Error)
	s.db = db

	s.cfg = &config.Config{
		Environment: "test",
		JWT: config.JWTConfig{
			SecretKey:       "test-secret",
			AccessTokenTTL:  1,
			RefreshTokenTTL: 2,
		},
		Payment: config.PaymentConfig{
			Currency:            "eur",
			StripeWebhookSecret: "whsec_test",
		},
		Billing: config.BillingConfig{
			// A weekday that is never today, so calls in this suite
			// run free and answering needs no tokens.
			Weekday:           (time.Now().UTC().Weekday() + 3) % 7,
			Timezone:          "UTC",
			TickInterval:      60,
			TokenMinutes:      60,
			MaxPrimaryPerYear: 20,
		},
	}
	utils.SetJWTSecret(s.cfg.JWT.SecretKey)

	policy, err := services.NewBillablePolicy(s.cfg.Billing)
	require.NoError(s.T(), err)

	s.ledger = services.NewTokenLedger(db)
	marketplace := services.NewMarketplaceService(db, s.ledger)
	paymentService := services.NewPaymentService(db, s.cfg, s.ledger, marketplace)
	authService := services.NewAuthService(db, s.cfg)
	adminService := services.NewAdminService(db, s.ledger)
	callService := services.NewCallService(db, policy)
	presence := services.NewPresenceRegistry()
	scheduler := services.NewBillingScheduler(s.ledger, callService, policy, time.Minute)

	authHandler := handlers.NewAuthHandler(authService)
	walletHandler := handlers.NewWalletHandler(s.ledger)
	paymentHandler := handlers.NewPaymentHandler(paymentService, s.cfg)
	marketHandler := handlers.NewMarketHandler(marketplace)
	callHandler := handlers.NewCallHandler(callService, scheduler, presence)
	adminHandler := handlers.NewAdminHandler(adminService)

	r := gin.New()
	v1 := r.Group("/v1")

	auth := v1.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.GET("/me", middleware.AuthRequired(), authHandler.GetProfile)

	wallet := v1.Group("/wallet", middleware.AuthRequired())
	wallet.GET("", walletHandler.GetWallet)
	wallet.GET("/history", walletHandler.GetHistory)
	v1.GET("/tokens/supply", walletHandler.GetSupply)

	market := v1.Group("/marketplace")
	market.GET("/listings", marketHandler.GetListings)
	market.POST("/listings", middleware.AuthRequired(), marketHandler.CreateListing)
	market.DELETE("/listings/:id", middleware.AuthRequired(), marketHandler.CancelListing)

	payments := v1.Group("/payments")
	payments.POST("/webhook", paymentHandler.StripeWebhook)

	calls := v1.Group("/calls", middleware.AuthRequired())
	calls.POST("", callHandler.Invite)
	calls.POST("/:id/answer", callHandler.Answer)
	calls.POST("/:id/end", callHandler.End)
	calls.GET("/:id", callHandler.GetCall)

	presenceGroup := v1.Group("/presence", middleware.AuthRequired())
	presenceGroup.POST("/connect", callHandler.Connect)
	presenceGroup.POST("/disconnect", callHandler.Disconnect)

	admin := v1.Group("/admin", middleware.AuthRequired(), middleware.AdminRequired())
	admin.POST("/tokens/mint", adminHandler.MintTokens)
	admin.PUT("/settings/price", adminHandler.SetPrice)
	admin.GET("/settings", adminHandler.GetSettings)

	s.router = r
}

func (s *APITestSuite) request(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.T(), json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// newUser creates a user directly and returns it with a valid access
// token, bypassing the register endpoint for tests that only need an
// authenticated caller.
func (s *APITestSuite) newUser(role models.UserRole) (*models.User, string) {
	s.seq++
	user := &models.User{
		Username: fmt.Sprintf("apiuser%d", s.seq),
		Email:    fmt.Sprintf("apiuser%d@example.com", s.seq),
		Role:     role,
	}
	require.NoError(s.T(), user.SetPassword("Passw0rd1"))
	require.NoError(s.T(), s.db.Create(user).Error)

	token, err := utils.GenerateJWT(user.ID, user.Username, string(user.Role), 1)
	require.NoError(s.T(), err)
	return user, token
}

func (s *APITestSuite) TestRegisterAndLogin() {
	w := s.request("POST", "/v1/auth/register", "", gin.H{
		"username": "registrant",
		"email":    "registrant@example.com",
		"password": "Sup3rSecret",
	})
	require.Equal(s.T(), http.StatusCreated, w.Code)

	var response map[string]interface{}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(s.T(), response["success"].(bool))
	data := response["data"].(map[string]interface{})
	assert.NotEmpty(s.T(), data["token"])

	w = s.request("POST", "/v1/auth/login", "", gin.H{
		"email":    "registrant@example.com",
		"password": "Sup3rSecret",
	})
	assert.Equal(s.T(), http.StatusOK, w.Code)

	w = s.request("POST", "/v1/auth/login", "", gin.H{
		"email":    "registrant@example.com",
		"password": "wrong-password",
	})
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
}

func (s *APITestSuite) TestWalletRequiresAuth() {
	w := s.request("GET", "/v1/wallet", "", nil)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
}

func (s *APITestSuite) TestWalletShowsBalance() {
	user, token := s.newUser(models.UserRoleClient)

	_, err := s.ledger.Mint(&user.ID, 60, 2026)
	require.NoError(s.T(), err)

	w := s.request("GET", "/v1/wallet", token, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	data := response["data"].(map[string]interface{})
	assert.EqualValues(s.T(), 60, data["total_minutes"])
}

func (s *APITestSuite) TestAdminMintAndPrice() {
	_, adminToken := s.newUser(models.UserRoleAdmin)
	_, clientToken := s.newUser(models.UserRoleClient)

	// Clients cannot reach admin endpoints.
	w := s.request("POST", "/v1/admin/tokens/mint", clientToken, gin.H{"quantity": 3, "year": 2031})
	assert.Equal(s.T(), http.StatusForbidden, w.Code)

	w = s.request("POST", "/v1/admin/tokens/mint", adminToken, gin.H{"quantity": 3, "year": 2031})
	require.Equal(s.T(), http.StatusCreated, w.Code)

	w = s.request("GET", "/v1/tokens/supply?year=2031", "", nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	data := response["data"].(map[string]interface{})
	assert.EqualValues(s.T(), 3, data["available"])

	w = s.request("PUT", "/v1/admin/settings/price", adminToken, gin.H{"price_cents": 2599})
	require.Equal(s.T(), http.StatusOK, w.Code)

	w = s.request("GET", "/v1/admin/settings", adminToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	settings := response["data"].(map[string]interface{})["settings"].(map[string]interface{})
	assert.EqualValues(s.T(), 2599, settings["unit_price_cents"])
}

func (s *APITestSuite) TestListingFlow() {
	seller, sellerToken := s.newUser(models.UserRoleClient)

	token, err := s.ledger.Mint(&seller.ID, 60, 2026)
	require.NoError(s.T(), err)

	w := s.request("POST", "/v1/marketplace/listings", sellerToken, gin.H{
		"token_id":    token.ID,
		"price_cents": 1500,
	})
	require.Equal(s.T(), http.StatusCreated, w.Code)

	var response map[string]interface{}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	listing := response["data"].(map[string]interface{})["listing"].(map[string]interface{})
	listingID := listing["id"].(string)

	w = s.request("GET", "/v1/marketplace/listings", "", nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	listings := response["data"].(map[string]interface{})["listings"].([]interface{})
	assert.NotEmpty(s.T(), listings)

	w = s.request("DELETE", "/v1/marketplace/listings/"+listingID, sellerToken, nil)
	assert.Equal(s.T(), http.StatusOK, w.Code)

	// Canceling again conflicts.
	w = s.request("DELETE", "/v1/marketplace/listings/"+listingID, sellerToken, nil)
	assert.Equal(s.T(), http.StatusConflict, w.Code)
}

func (s *APITestSuite) TestCallFlow() {
	_, callerToken := s.newUser(models.UserRoleClient)
	callee, calleeToken := s.newUser(models.UserRoleClient)

	// Callee must be online before an invite lands.
	w := s.request("POST", "/v1/calls", callerToken, gin.H{"callee_id": callee.ID})
	assert.Equal(s.T(), http.StatusConflict, w.Code)

	w = s.request("POST", "/v1/presence/connect", calleeToken, gin.H{"connection_id": "conn-abc"})
	require.Equal(s.T(), http.StatusOK, w.Code)

	w = s.request("POST", "/v1/calls", callerToken, gin.H{"callee_id": callee.ID})
	require.Equal(s.T(), http.StatusCreated, w.Code)

	var response map[string]interface{}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	call := response["data"].(map[string]interface{})["call"].(map[string]interface{})
	callID := call["id"].(string)
	assert.Equal(s.T(), "ringing", call["status"])
	assert.Equal(s.T(), false, call["billable"])

	// Only the callee can answer.
	w = s.request("POST", "/v1/calls/"+callID+"/answer", callerToken, nil)
	assert.Equal(s.T(), http.StatusForbidden, w.Code)

	w = s.request("POST", "/v1/calls/"+callID+"/answer", calleeToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)

	w = s.request("POST", "/v1/calls/"+callID+"/end", callerToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)

	w = s.request("GET", "/v1/calls/"+callID, callerToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	call = response["data"].(map[string]interface{})["call"].(map[string]interface{})
	assert.Equal(s.T(), "ended", call["status"])
}

// signedWebhook posts a Stripe event with a valid signature the way
// Stripe's SDK computes it.
func (s *APITestSuite) signedWebhook(payload string) *httptest.ResponseRecorder {
	ts := time.Now()
	signature := webhook.ComputeSignature(ts, []byte(payload), s.cfg.Payment.StripeWebhookSecret)
	req, _ := http.NewRequest("POST", "/v1/payments/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(signature)))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *APITestSuite) TestWebhookAcknowledgesFulfillmentFailure() {
	buyer, _ := s.newUser(models.UserRoleClient)

	payload := fmt.Sprintf(`{"id":"evt_soldout","type":"checkout.session.completed","data":{"object":{"id":"cs_api_soldout","amount_total":1999,"metadata":{"buyer_id":%q,"type":"treasury_purchase","quantity":"1","year":"2042"}}}}`, buyer.ID)

	// No treasury stock for 2042. The failure is recorded and the
	// delivery acknowledged so Stripe stops redelivering it.
	w := s.signedWebhook(payload)
	require.Equal(s.T(), http.StatusOK, w.Code)

	var payment models.Payment
	require.NoError(s.T(), s.db.First(&payment, "reference = ?", "cs_api_soldout").Error)
	assert.Equal(s.T(), models.PaymentStatusFailed, payment.Status)

	// Restock, then redeliver. The failed mark is terminal: the buyer
	// gets no tokens out of a payment operators already reconcile.
	_, err := s.ledger.MintBatch(1, 60, 2042)
	require.NoError(s.T(), err)

	w = s.signedWebhook(payload)
	require.Equal(s.T(), http.StatusOK, w.Code)

	require.NoError(s.T(), s.db.First(&payment, "reference = ?", "cs_api_soldout").Error)
	assert.Equal(s.T(), models.PaymentStatusFailed, payment.Status)

	tokens, _, err := s.ledger.WalletTokens(buyer.ID)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), tokens)
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
