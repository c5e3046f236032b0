package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/cppla/engage/models"
)

// UserStore resolves account authors for display and spam checks.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Find returns one user or ErrNotFound.
func (s *UserStore) Find(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	res := s.db.WithContext(ctx).Limit(1).Find(&u, id)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &u, nil
}

// FindByIDs loads users keyed by ID; unknown IDs are absent from the map.
func (s *UserStore) FindByIDs(ctx context.Context, ids []uint) (map[uint]models.User, error) {
	out := make(map[uint]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}
