// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the append-only API usage log.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/visa-eval-backend/internal/domain"
)

// UsageFilter narrows ListUsage. Zero values match everything.
type UsageFilter struct {
	From     time.Time
	To       time.Time
	APIKeyID string
	Limit    int
}

// InsertUsage appends one usage row. The caller assigns the id.
func InsertUsage(ctx context.Context, db *gorm.DB, u *domain.APIUsage) error {
	return db.WithContext(ctx).Create(u).Error
}

// ListUsage returns a user's usage rows, newest first.
func ListUsage(ctx context.Context, db *gorm.DB, userID string, f UsageFilter) ([]domain.APIUsage, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if !f.From.IsZero() {
		q = q.Where("timestamp >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("timestamp <= ?", f.To.UTC())
	}
	if f.APIKeyID != "" {
		q = q.Where("api_key_id = ?", f.APIKeyID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []domain.APIUsage
	err := q.Order("timestamp desc").Find(&out).Error
	return out, err
}

// PurgeUsageBefore deletes rows older than cutoff and reports how many.
func PurgeUsageBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&domain.APIUsage{})
	return res.RowsAffected, res.Error
}
