package database

import (
	"time"

	"pagewatch/internal/models"

	"github.com/pkg/errors"

	"gorm.io/gorm"
)

// Repository handles all database operations for page visits
type Repository struct {
	db *DB
}

// NewRepository creates a new repository instance
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateVisit inserts a new page visit into the database
func (r *Repository) CreateVisit(visit *models.PageVisit) error {
	result := r.db.Create(visit)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert page visit")
	}
	return nil
}

// CompleteVisit records the stop time and duration of an open visit,
// identified by its page id
func (r *Repository) CompleteVisit(pageID string, stopTime time.Time) error {
	var visit models.PageVisit
	result := r.db.Where("page_id = ?", pageID).First(&visit)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return gorm.ErrRecordNotFound
		}
		return errors.Wrap(result.Error, "failed to find page visit")
	}

	duration := int64(stopTime.Sub(visit.StartTime).Seconds())
	if duration < 0 {
		duration = 0
	}
	result = r.db.Model(&visit).Updates(map[string]any{
		"stop_time":        stopTime,
		"duration_seconds": duration,
	})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to complete page visit")
	}
	return nil
}

// GetVisitByPageID retrieves a page visit by its page id
func (r *Repository) GetVisitByPageID(pageID string) (*models.PageVisit, error) {
	var visit models.PageVisit
	result := r.db.Where("page_id = ?", pageID).First(&visit)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get page visit")
	}
	return &visit, nil
}

// GetVisitsSince retrieves all page visits started since a given time
// Simple query that returns raw visits - runtime does the processing
func (r *Repository) GetVisitsSince(since time.Time) ([]*models.PageVisit, error) {
	var visits []*models.PageVisit
	result := r.db.Where("start_time >= ?", since).Order("start_time ASC").Find(&visits)

	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query page visits")
	}

	return visits, nil
}

// GetDomainSummarySince returns aggregated time per domain since a given time
// Uses SQL SUM for efficiency - runtime can do additional calculations
func (r *Repository) GetDomainSummarySince(since time.Time) ([]models.DomainSummary, error) {
	var summaries []models.DomainSummary

	result := r.db.Model(&models.PageVisit{}).
		Select("domain, SUM(duration_seconds) as total_seconds, COUNT(*) as visit_count").
		Where("start_time >= ?", since).
		Group("domain").
		Order("total_seconds DESC").
		Scan(&summaries)

	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query domain summary")
	}

	return summaries, nil
}

// GetLatestVisit retrieves the most recently started page visit
func (r *Repository) GetLatestVisit() (*models.PageVisit, error) {
	var visit models.PageVisit
	result := r.db.Order("start_time DESC").First(&visit)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(result.Error, "failed to get latest visit")
	}
	return &visit, nil
}

// DeleteOldVisits deletes visits older than a specified date (soft delete)
func (r *Repository) DeleteOldVisits(before time.Time) (int64, error) {
	result := r.db.Where("start_time < ?", before).Delete(&models.PageVisit{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to delete old visits")
	}
	return result.RowsAffected, nil
}

// CreateErrorLog inserts a new error log into the database
func (r *Repository) CreateErrorLog(errorLog *models.ErrorLog) error {
	result := r.db.Create(errorLog)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert error log")
	}
	return nil
}

// Clear removes all page visits from the database
func (r *Repository) Clear() error {
	result := r.db.Exec("DELETE FROM page_visits")
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to clear page visits")
	}
	return nil
}
