package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/textube/backend/internal/links"
	"github.com/textube/backend/internal/posts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table managed by the service, in migration order.
func Models() []any {
	models := posts.Models()
	models = append(models, &links.Submission{}, &migrationRecord{})
	return models
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
