package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	"github.com/frahmantamala/giftcard-fulfillment/internal/auth"
	userDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/user"
)

type Repository struct {
	db *gorm.DB
}

var _ auth.RepositoryAPI = (*Repository)(nil)

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*userDatamodel.User, error) {
	var u userDatamodel.User
	err := r.db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*userDatamodel.User, error) {
	var u userDatamodel.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}

// Create inserts a user; an existing email is left untouched.
func (r *Repository) Create(ctx context.Context, u *userDatamodel.User) error {
	res := r.db.WithContext(ctx).Where("email = ?", u.Email).FirstOrCreate(u)
	if res.Error != nil {
		return fmt.Errorf("create user: %w", res.Error)
	}
	return nil
}
