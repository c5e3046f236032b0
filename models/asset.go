package models

import "time"

// Asset is a content item that comments attach to. Assets without a row are open.
type Asset struct {
	ID             uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Title          string    `gorm:"size:255" json:"title"`
	URL            string    `gorm:"size:1024" json:"url"`
	CommentsClosed bool      `gorm:"not null;default:false" json:"comments_closed"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ClosedAt reports whether commenting is closed at now, given an auto-close
// window in days (0 disables auto-close).
func (a *Asset) ClosedAt(now time.Time, closeAfterDays int) bool {
	if a.CommentsClosed {
		return true
	}
	if closeAfterDays <= 0 || a.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(a.CreatedAt) >= time.Duration(closeAfterDays)*24*time.Hour
}
