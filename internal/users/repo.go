package users

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
)

// Repository exposes user and address persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail retrieves the user matching the provided email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Create inserts a new user row.
func (r *Repository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// ListAddresses returns the user's address book, default first.
func (r *Repository) ListAddresses(ctx context.Context, userID uuid.UUID) ([]models.UserAddress, error) {
	var rows []models.UserAddress
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC").
		Order("created_at DESC").
		Find(&rows).
		Error
	return rows, err
}

// FindAddress loads one address owned by the user.
func (r *Repository) FindAddress(ctx context.Context, userID, addressID uuid.UUID) (*models.UserAddress, error) {
	var row models.UserAddress
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", addressID, userID).
		First(&row).
		Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindDefaultAddress returns the user's default address.
func (r *Repository) FindDefaultAddress(ctx context.Context, userID uuid.UUID) (*models.UserAddress, error) {
	var row models.UserAddress
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_default = ?", userID, true).
		First(&row).
		Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// CreateAddress inserts a new address row.
func (r *Repository) CreateAddress(ctx context.Context, address *models.UserAddress) (*models.UserAddress, error) {
	if err := r.db.WithContext(ctx).Create(address).Error; err != nil {
		return nil, err
	}
	return address, nil
}

// ClearDefault unsets the default flag on every address of the user.
func (r *Repository) ClearDefault(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.UserAddress{}).
		Where("user_id = ?", userID).
		Update("is_default", false).
		Error
}

// SetDefault marks one address as the default.
func (r *Repository) SetDefault(ctx context.Context, userID, addressID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.UserAddress{}).
		Where("id = ? AND user_id = ?", addressID, userID).
		Update("is_default", true).
		Error
}

// DeleteAddress removes one address owned by the user.
func (r *Repository) DeleteAddress(ctx context.Context, userID, addressID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", addressID, userID).
		Delete(&models.UserAddress{}).
		Error
}
