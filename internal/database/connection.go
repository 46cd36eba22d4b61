// internal/database/connection.go
package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fridayapp/backend/internal/config"
	"github.com/fridayapp/backend/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var gormConfig *gorm.Config

	// Configure GORM logger
	if cfg.LogLevel == "silent" {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	} else {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Info),
		}
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection established successfully")
	return db, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Error getting underlying sql.DB: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	} else {
		log.Println("Database connection closed successfully")
	}
}

func RunMigrations(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&models.User{},
		&models.Token{},
		&models.Listing{},
		&models.Trade{},
		&models.Payment{},
		&models.LedgerEntry{},
		&models.Call{},
		&models.Settings{},
	)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Reservation lookups: oldest eligible token per owner.
		"CREATE INDEX IF NOT EXISTS idx_tokens_owner_status_created ON tokens(owner_id, status, created_at)",
		// Treasury lookups per issued year.
		"CREATE INDEX IF NOT EXISTS idx_tokens_treasury_year ON tokens(issued_year, created_at) WHERE owner_id IS NULL",
		// At most one open listing per token.
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_listings_open_token ON listings(token_id) WHERE status = 'open'",
		"CREATE INDEX IF NOT EXISTS idx_listings_status_created ON listings(status, created_at DESC)",

		"CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_created ON ledger_entries(user_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_calls_status ON calls(status)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			log.Printf("Warning: Failed to create index: %s, Error: %v", index, err)
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

// SeedInitialData creates the default admin account and the settings
// row when the database is empty.
func SeedInitialData(db *gorm.DB) error {
	log.Println("Seeding initial data...")

	var adminCount int64
	db.Model(&models.User{}).Where("role = ?", models.UserRoleAdmin).Count(&adminCount)

	if adminCount == 0 {
		admin := &models.User{
			Username: "admin",
			Email:    "admin@fridayapp.local",
			Role:     models.UserRoleAdmin,
		}

		if err := admin.SetPassword("admin123!@#"); err != nil {
			return fmt.Errorf("failed to set admin password: %w", err)
		}

		if err := db.Create(admin).Error; err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}

		log.Println("Default admin user created successfully")
	}

	var settingsCount int64
	db.Model(&models.Settings{}).Count(&settingsCount)

	if settingsCount == 0 {
		settings := &models.Settings{
			ID:             1,
			UnitPriceCents: 1999,
			TokenMinutes:   60,
		}
		if err := db.Create(settings).Error; err != nil {
			return fmt.Errorf("failed to create settings row: %w", err)
		}
	}

	log.Println("Initial data seeding completed")
	return nil
}
