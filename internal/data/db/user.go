package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/nexasecurity/nexasec/internal/data/model"
)

// UserStore defines the interface for persisting accounts.
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// GormUserStore implements the UserStore interface using a GORM DB connection.
type GormUserStore struct {
	db *gorm.DB
}

// NewGormUserStore creates a new GormUserStore.
func NewGormUserStore(db *gorm.DB) (*GormUserStore, error) {
	if db == nil {
		return nil, errNilDB
	}
	return &GormUserStore{db: db}, nil
}

// Create inserts a new user. Emails are stored lower-cased.
func (store *GormUserStore) Create(ctx context.Context, user *model.User) error {
	if ctx == nil {
		return errNilCtx
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	return store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.User{}).Where("email = ?", user.Email).Count(&n).Error; err != nil {
			return fmt.Errorf("error checking email: %w", err)
		}
		if n > 0 {
			return ErrDuplicate
		}
		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicate
			}
			return fmt.Errorf("error creating user: %w", err)
		}
		return nil
	})
}

// GetByID returns the user with the given id.
func (store *GormUserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	return store.first(ctx, "id = ?", id)
}

// GetByEmail returns the user with the given email.
func (store *GormUserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return store.first(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (store *GormUserStore) first(ctx context.Context, query string, arg interface{}) (*model.User, error) {
	if ctx == nil {
		return nil, errNilCtx
	}
	var user model.User
	err := store.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}
	return &user, nil
}
