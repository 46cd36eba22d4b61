// internal/services/testutil_test.go
package services

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fridayapp/backend/internal/models"
)

// setupTestDB opens an in-memory sqlite database capped at one
// connection, so the database outlives individual sessions and
// concurrent test goroutines serialize at the pool while the
// conditional updates still decide the winners.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Token{},
		&models.Listing{},
		&models.Trade{},
		&models.Payment{},
		&models.LedgerEntry{},
		&models.Call{},
		&models.Settings{},
	))

	require.NoError(t, db.Create(&models.Settings{
		ID:             1,
		UnitPriceCents: 1999,
		TokenMinutes:   60,
	}).Error)

	t.Cleanup(func() { sqlDB.Close() })

	return db
}

var userSeq int64

func createTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	n := atomic.AddInt64(&userSeq, 1)
	user := &models.User{
		Username: fmt.Sprintf("user%d", n),
		Email:    fmt.Sprintf("user%d@example.com", n),
		Role:     models.UserRoleClient,
	}
	require.NoError(t, user.SetPassword("Passw0rd1"))
	require.NoError(t, db.Create(user).Error)
	return user
}

// mintOwnedTokenAt creates an owned token with an explicit creation
// time, so oldest-first selection is deterministic.
func mintOwnedTokenAt(t *testing.T, db *gorm.DB, ownerID uuid.UUID, minutes int, createdAt time.Time) *models.Token {
	t.Helper()

	token := &models.Token{
		OwnerID:          &ownerID,
		RemainingMinutes: minutes,
		Status:           models.TokenStatusOwned,
		IssuedYear:       createdAt.Year(),
	}
	token.CreatedAt = createdAt
	require.NoError(t, db.Create(token).Error)
	return token
}

func createTestCall(t *testing.T, db *gorm.DB, callerID, calleeID uuid.UUID, status models.CallStatus) *models.Call {
	t.Helper()

	call := &models.Call{
		CallerID: callerID,
		CalleeID: calleeID,
		Status:   status,
		Billable: true,
	}
	require.NoError(t, db.Create(call).Error)
	return call
}

func reloadToken(t *testing.T, db *gorm.DB, id uuid.UUID) *models.Token {
	t.Helper()

	var token models.Token
	require.NoError(t, db.First(&token, "id = ?", id).Error)
	return &token
}
