package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/scribeworks/generation-engine/internal/repository"
	"gorm.io/gorm"
)

func createBatchItemReportsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_batch_item_reports",
		Migrate: func(tx *gorm.DB) error {
			// The unique index on (batch_id, item_index, kind) comes from the
			// model tags; it is what makes outcome reports idempotent.
			return tx.AutoMigrate(&repository.ItemReportModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ItemReportModel{})
		},
	}
}
