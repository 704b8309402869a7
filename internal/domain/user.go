package domain

import (
	"time"

	"gorm.io/datatypes"
)

// User is an account that owns evaluations, API keys and subscriptions.
type User struct {
	ID               string    `json:"id"    gorm:"type:char(36);primaryKey"`
	Name             string    `json:"name"  gorm:"type:varchar(128);not null"`
	Email            string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash     string    `json:"-"     gorm:"type:varchar(255);not null"`
	StripeCustomerID string    `json:"stripeCustomerId,omitempty" gorm:"type:varchar(128);index"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`

	APIKeys []APIKey `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// APIKey is a hashed programmatic credential. The plaintext is only returned
// once, at creation.
type APIKey struct {
	ID         string     `json:"id"       gorm:"type:char(36);primaryKey"`
	UserID     string     `json:"-"        gorm:"type:char(36);not null;index"`
	Name       string     `json:"name"     gorm:"type:varchar(128);not null"`
	Prefix     string     `json:"prefix"   gorm:"type:varchar(16);not null"`
	KeyHash    string     `json:"-"        gorm:"type:char(64);not null;uniqueIndex"`
	IsActive   bool       `json:"isActive" gorm:"not null;default:true;index"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// TableName returns the database table name for APIKey.
func (APIKey) TableName() string { return "api_keys" }

// APIUsage is an append-only audit row for one API-key-authenticated call.
// Rows expire after the configured retention window.
type APIUsage struct {
	ID             int64             `json:"id,string"  gorm:"primaryKey;autoIncrement:false"`
	UserID         string            `json:"userId"     gorm:"type:char(36);not null;index:idx_usage_user_ts,priority:1"`
	APIKeyID       string            `json:"apiKeyId"   gorm:"type:char(36);not null;index"`
	Endpoint       string            `json:"endpoint"   gorm:"type:varchar(255);not null"`
	Method         string            `json:"method"     gorm:"type:varchar(8);not null"`
	StatusCode     int               `json:"statusCode" gorm:"not null"`
	Success        bool              `json:"success"    gorm:"not null"`
	ResponseTimeMs int64             `json:"responseTimeMs"`
	ErrorMessage   string            `json:"errorMessage,omitempty" gorm:"type:varchar(512)"`
	IPAddress      string            `json:"ipAddress"  gorm:"type:varchar(64)"`
	UserAgent      string            `json:"userAgent"  gorm:"type:varchar(512)"`
	Metadata       datatypes.JSONMap `json:"metadata"   gorm:"type:json"`
	Timestamp      time.Time         `json:"timestamp"  gorm:"not null;index;index:idx_usage_user_ts,priority:2"`
}

// TableName returns the database table name for APIUsage.
func (APIUsage) TableName() string { return "api_usage" }
