package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/scribeworks/generation-engine/internal/repository"
	"gorm.io/gorm"
)

func createGenerationAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_generation_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.GenerationAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_generation_attempts_batch_item ON generation_attempts (batch_id, item_index)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.GenerationAttemptModel{})
		},
	}
}
