// internal/config/database.go
package config

import (
	"fmt"
)

// DSN builds the postgres connection string. A short connect timeout
// keeps startup from hanging when the database is unreachable.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s connect_timeout=5",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}
