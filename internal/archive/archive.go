package archive

import (
	"fmt"

	"anvil/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Archive is the durable record of terminal jobs, kept in a local sqlite
// file. The live queue is in-memory; this table is what survives restarts.
type Archive struct {
	db *gorm.DB
}

// Open opens (or creates) the archive database and runs migrations.
func Open(path string) (*Archive, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	if err := db.AutoMigrate(&models.HistoryJob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// Record persists one terminal job.
func (a *Archive) Record(job models.HistoryJob) error {
	if err := a.db.Create(&job).Error; err != nil {
		return fmt.Errorf("failed to record job %s: %w", job.ID, err)
	}
	return nil
}

// Recent returns up to limit archived jobs, most recently finished first.
func (a *Archive) Recent(limit int) ([]models.HistoryJob, error) {
	var jobs []models.HistoryJob
	query := a.db.Order("finished_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list archived jobs: %w", err)
	}
	return jobs, nil
}

// Close closes the underlying database handle.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
