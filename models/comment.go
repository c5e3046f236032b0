package models

import (
	"time"

	"gorm.io/gorm"
)

// CommentState is the moderation state of a comment.
type CommentState int

const (
	StateUnpublished CommentState = 0
	StatePublished   CommentState = 1
	StateSpam        CommentState = -3
)

// Valid reports whether s is one of the known states.
func (s CommentState) Valid() bool {
	switch s {
	case StateUnpublished, StatePublished, StateSpam:
		return true
	}
	return false
}

func (s CommentState) String() string {
	switch s {
	case StatePublished:
		return "published"
	case StateUnpublished:
		return "unpublished"
	case StateSpam:
		return "spam"
	default:
		return "unknown"
	}
}

// Comment is a node of the per-asset nested-set comment tree.
// The asset root pseudo-node has Level 0, Lft 1 and AssetRoot set.
type Comment struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	AssetID    uint         `gorm:"index:idx_comments_asset_lft,priority:1;not null" json:"asset_id"`
	ParentID   *uint        `gorm:"index" json:"parent_id"`
	Lft        int          `gorm:"index:idx_comments_asset_lft,priority:2;not null" json:"-"`
	Rgt        int          `gorm:"not null" json:"-"`
	Level      int          `gorm:"not null;default:0" json:"-"`
	AssetRoot  *uint        `gorm:"uniqueIndex" json:"-"`
	Body       string       `gorm:"type:text" json:"body"`
	Name       string       `gorm:"size:255" json:"name,omitempty"`
	Email      string       `gorm:"size:255;index" json:"-"`
	CreatedBy  *uint        `gorm:"index" json:"created_by,omitempty"`
	ModifiedBy *uint        `json:"-"`
	State      CommentState `gorm:"index;not null;default:0" json:"state"`
	IP         string       `gorm:"size:45" json:"-"`
	UserAgent  string       `gorm:"size:512" json:"-"`
	Hash       string       `gorm:"size:36;index" json:"hash"`
	CreatedOn  time.Time    `gorm:"index" json:"created_on"`
	ModifiedOn time.Time    `json:"modified_on"`
}

// IsRoot reports whether c is the asset root pseudo-node.
func (c *Comment) IsRoot() bool {
	return c.AssetRoot != nil
}

// Depth is the number of ancestors strictly between c and its asset root.
func (c *Comment) Depth() int {
	return c.Level - 1
}

// IsGuest reports whether the comment was filed without an account.
func (c *Comment) IsGuest() bool {
	return c.CreatedBy == nil
}

// StampTimestamps sets CreatedOn when it is still zero and always refreshes
// ModifiedOn. CreatedBy is left untouched.
func StampTimestamps(c *Comment, now time.Time) {
	if c.CreatedOn.IsZero() {
		c.CreatedOn = now
	}
	c.ModifiedOn = now
}

// BeforeCreate stamps creation and modification times.
func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	StampTimestamps(c, time.Now())
	return nil
}

// BeforeUpdate refreshes the modification time on full saves.
func (c *Comment) BeforeUpdate(tx *gorm.DB) error {
	StampTimestamps(c, time.Now())
	return nil
}
