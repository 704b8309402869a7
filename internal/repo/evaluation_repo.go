// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Evaluation
// model, including the conditional insert that admits free-tier requests.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/visa-eval-backend/internal/domain"
)

// EvaluationFilter narrows ListEvaluations. Empty fields match everything.
type EvaluationFilter struct {
	Status   domain.EvaluationStatus
	Country  string
	VisaType string
	Offset   int
	Limit    int
}

// CreateEvaluation inserts an evaluation row as is.
func CreateEvaluation(ctx context.Context, db *gorm.DB, e *domain.Evaluation) error {
	return db.WithContext(ctx).Create(e).Error
}

// CreateEvaluationWithinQuota inserts e only while the user has fewer than
// limit evaluations created at or after since. Check and insert are one
// statement, so concurrent callers cannot overshoot the limit. It reports
// whether the row was inserted.
func CreateEvaluationWithinQuota(ctx context.Context, db *gorm.DB, e *domain.Evaluation, since time.Time, limit int) (bool, error) {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	res := db.WithContext(ctx).Exec(`
INSERT INTO evaluations (id, user_id, country, visa_type, status, documents, result, created_at, updated_at)
SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
WHERE (SELECT COUNT(*) FROM evaluations WHERE user_id = ? AND created_at >= ?) < ?`,
		e.ID, e.UserID, e.Country, e.VisaType, e.Status, e.Documents, e.Result, e.CreatedAt, e.UpdatedAt,
		e.UserID, since.UTC(), limit,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountEvaluationsSince counts a user's evaluations created at or after since.
func CountEvaluationsSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Evaluation{}).
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Count(&n).Error
	return n, err
}

// GetEvaluation fetches one evaluation owned by userID, or ErrNotFound.
func GetEvaluation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Evaluation, error) {
	var e domain.Evaluation
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEvaluations returns a page of a user's evaluations, newest first, and
// the total matching the filter.
func ListEvaluations(ctx context.Context, db *gorm.DB, userID string, f EvaluationFilter) ([]domain.Evaluation, int64, error) {
	q := db.WithContext(ctx).Model(&domain.Evaluation{}).Where("user_id = ?", userID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Country != "" {
		q = q.Where("country = ?", f.Country)
	}
	if f.VisaType != "" {
		q = q.Where("visa_type = ?", f.VisaType)
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := q.Order("created_at desc").Offset(f.Offset)
	if f.Limit > 0 {
		page = page.Limit(f.Limit)
	}
	var out []domain.Evaluation
	err := page.Find(&out).Error
	return out, total, err
}

// SaveEvaluationProgress persists status, documents, result and processedAt.
// It returns ErrNotFound when the row is gone.
func SaveEvaluationProgress(ctx context.Context, db *gorm.DB, e *domain.Evaluation) error {
	e.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Evaluation{}).
		Where("id = ? AND user_id = ?", e.ID, e.UserID).
		Updates(map[string]any{
			"status":       e.Status,
			"documents":    e.Documents,
			"result":       e.Result,
			"processed_at": e.ProcessedAt,
			"updated_at":   e.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEvaluation removes an evaluation owned by userID.
// Stored document objects are left in place.
func DeleteEvaluation(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Evaluation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
