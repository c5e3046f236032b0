package models

import "time"

// User is a registered account. Passwords are stored as bcrypt hashes only.
// OAuth accounts are keyed by (Provider, ProviderID); local accounts leave
// both empty.
type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email    string `gorm:"size:255;index" json:"email"`
	// EmailVerified gates claiming and self-service privacy requests by email.
	EmailVerified bool      `gorm:"not null;default:false" json:"email_verified"`
	PasswordHash  string    `gorm:"size:255" json:"-"`
	Provider      string    `gorm:"size:32;index:idx_users_provider_account" json:"provider"`
	ProviderID    string    `gorm:"size:255;index:idx_users_provider_account" json:"provider_id"`
	RegisterIP    string    `gorm:"size:45" json:"register_ip"`
	AvatarURL     string    `gorm:"size:512" json:"avatar_url"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
