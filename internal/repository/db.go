package repository

import (
	"fmt"

	"github.com/throttlecove/throttlecove/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens the relational store named by driver ("postgres" for
// production, "sqlite" for dev and tests) and migrates the auth schema.
// The choice is made once at process start, never by runtime type checks.
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}); err != nil {
		return nil, fmt.Errorf("migrate auth schema: %w", err)
	}
	return db, nil
}
