package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/scribeworks/generation-engine/internal/repository"
	"gorm.io/gorm"
)

func createGenerationBatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_generation_batches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_generation_batches_status_created ON generation_batches (status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_generation_batches_liveness ON generation_batches (last_progress_update) WHERE status IN ('PENDING', 'PROCESSING')`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchModel{})
		},
	}
}
