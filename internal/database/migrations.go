package database

import (
	"errors"
	"time"

	"github.com/textube/backend/internal/links"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationPendingQueueIndex = "2026-10-14_pending_submission_queue_index"

const pendingQueueIndexName = "idx_link_submissions_pending_queue"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationPendingQueueIndex, apply: createPendingQueueIndex},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// AutoMigrate cannot express partial indexes. The sweep only ever reads the
// pending slice of link_submissions, so the index covers just those rows in
// queue order.
func createPendingQueueIndex(db *gorm.DB) error {
	return db.Exec("CREATE INDEX IF NOT EXISTS " + pendingQueueIndexName +
		" ON link_submissions (created_at_s, id) WHERE " + links.PendingQueueFilter).Error
}
