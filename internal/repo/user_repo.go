// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for users and
// their API keys.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/visa-eval-backend/internal/domain"
)

// CreateUser inserts a user. Emails are stored lower-cased; a taken email
// yields ErrDuplicate.
func CreateUser(ctx context.Context, db *gorm.DB, name, email, passwordHash string) (*domain.User, error) {
	u := &domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
	}
	if err := db.WithContext(ctx).Omit("APIKeys").Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by id.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches a user by (case-insensitive) email.
func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetStripeCustomer records the payment provider customer id for a user.
func SetStripeCustomer(ctx context.Context, db *gorm.DB, userID, customerID string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"stripe_customer_id": customerID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserByStripeCustomer resolves a user from a payment provider customer id.
func GetUserByStripeCustomer(ctx context.Context, db *gorm.DB, customerID string) (*domain.User, error) {
	if customerID == "" {
		return nil, ErrNotFound
	}
	var u domain.User
	if err := db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateAPIKey stores a hashed key for userID.
func CreateAPIKey(ctx context.Context, db *gorm.DB, userID, name, prefix, keyHash string) (*domain.APIKey, error) {
	k := &domain.APIKey{
		ID:       uuid.NewString(),
		UserID:   userID,
		Name:     name,
		Prefix:   prefix,
		KeyHash:  keyHash,
		IsActive: true,
	}
	if err := db.WithContext(ctx).Create(k).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return k, nil
}

// ListAPIKeys returns a user's keys, newest first.
func ListAPIKeys(ctx context.Context, db *gorm.DB, userID string) ([]domain.APIKey, error) {
	var out []domain.APIKey
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// GetActiveAPIKeyByHash resolves an active key by its hash.
func GetActiveAPIKeyByHash(ctx context.Context, db *gorm.DB, keyHash string) (*domain.APIKey, error) {
	var k domain.APIKey
	err := db.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", keyHash, true).
		First(&k).Error
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// DeactivateAPIKey disables a key owned by userID.
func DeactivateAPIKey(ctx context.Context, db *gorm.DB, id, userID string) (*domain.APIKey, error) {
	res := db.WithContext(ctx).
		Model(&domain.APIKey{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_active", false)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	var k domain.APIKey
	if err := db.WithContext(ctx).Where("id = ?", id).First(&k).Error; err != nil {
		return nil, err
	}
	return &k, nil
}

// TouchAPIKey sets last_used_at.
func TouchAPIKey(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.APIKey{}).
		Where("id = ?", id).
		UpdateColumn("last_used_at", at.UTC()).Error
}
