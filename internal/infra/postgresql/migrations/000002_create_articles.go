package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/scribeworks/generation-engine/internal/repository"
	"gorm.io/gorm"
)

func createArticlesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_articles",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ArticleModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_articles_batch_id ON articles (batch_id) WHERE batch_id IS NOT NULL`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ArticleModel{})
		},
	}
}
