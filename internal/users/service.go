package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/db"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/types"
)

// Service exposes directory reads and address book management.
type Service interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*UserDTO, error)
	ListAddresses(ctx context.Context, userID uuid.UUID) ([]AddressDTO, error)
	AddAddress(ctx context.Context, userID uuid.UUID, input AddressInput) (*AddressDTO, error)
	SetDefaultAddress(ctx context.Context, userID, addressID uuid.UUID) error
	RemoveAddress(ctx context.Context, userID, addressID uuid.UUID) error
	DefaultShippingAddress(ctx context.Context, userID uuid.UUID) (types.Address, error)
	ShippingAddress(ctx context.Context, userID uuid.UUID, addressID *uuid.UUID) (types.Address, error)
}

type service struct {
	repo     *Repository
	dbClient *db.Client
}

// NewService constructs a users service instance.
func NewService(repo *Repository, dbClient *db.Client) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	return &service{repo: repo, dbClient: dbClient}, nil
}

// GetUser returns the directory record for the user.
func (s *service) GetUser(ctx context.Context, userID uuid.UUID) (*UserDTO, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load user")
	}
	return FromModel(user), nil
}

// ListAddresses returns the user's address book, default first.
func (s *service) ListAddresses(ctx context.Context, userID uuid.UUID) ([]AddressDTO, error) {
	rows, err := s.repo.ListAddresses(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: list addresses")
	}
	dtos := make([]AddressDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, *AddressFromModel(&rows[i]))
	}
	return dtos, nil
}

// AddAddress saves a new address. The first address a user saves becomes the
// default automatically.
func (s *service) AddAddress(ctx context.Context, userID uuid.UUID, input AddressInput) (*AddressDTO, error) {
	if err := validateAddress(input); err != nil {
		return nil, err
	}

	existing, err := s.repo.ListAddresses(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: list addresses")
	}
	makeDefault := input.IsDefault || len(existing) == 0

	country := strings.TrimSpace(input.Country)
	if country == "" {
		country = "IN"
	}
	address := &models.UserAddress{
		ID:         uuid.New(),
		UserID:     userID,
		FullName:   strings.TrimSpace(input.FullName),
		Phone:      strings.TrimSpace(input.Phone),
		Line1:      strings.TrimSpace(input.Line1),
		Line2:      strings.TrimSpace(input.Line2),
		City:       strings.TrimSpace(input.City),
		State:      strings.TrimSpace(input.State),
		PostalCode: strings.TrimSpace(input.PostalCode),
		Country:    country,
		IsDefault:  makeDefault,
	}

	if err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if makeDefault {
			if err := txRepo.ClearDefault(ctx, userID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: clear default address")
			}
		}
		if _, err := txRepo.CreateAddress(ctx, address); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert address")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return AddressFromModel(address), nil
}

// SetDefaultAddress moves the default flag to the given address.
func (s *service) SetDefaultAddress(ctx context.Context, userID, addressID uuid.UUID) error {
	if _, err := s.loadOwnedAddress(ctx, userID, addressID); err != nil {
		return err
	}
	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.ClearDefault(ctx, userID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: clear default address")
		}
		if err := txRepo.SetDefault(ctx, userID, addressID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: set default address")
		}
		return nil
	})
}

// RemoveAddress deletes the address from the user's book.
func (s *service) RemoveAddress(ctx context.Context, userID, addressID uuid.UUID) error {
	if _, err := s.loadOwnedAddress(ctx, userID, addressID); err != nil {
		return err
	}
	if err := s.repo.DeleteAddress(ctx, userID, addressID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: delete address")
	}
	return nil
}

// DefaultShippingAddress returns the snapshot checkout stamps on new orders.
func (s *service) DefaultShippingAddress(ctx context.Context, userID uuid.UUID) (types.Address, error) {
	row, err := s.repo.FindDefaultAddress(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Address{}, pkgerrors.New(pkgerrors.CodeValidation, "no default shipping address on file")
		}
		return types.Address{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load default address")
	}
	return Snapshot(row), nil
}

// ShippingAddress resolves the snapshot for checkout: the selected address
// when one is named, the default otherwise.
func (s *service) ShippingAddress(ctx context.Context, userID uuid.UUID, addressID *uuid.UUID) (types.Address, error) {
	if addressID == nil {
		return s.DefaultShippingAddress(ctx, userID)
	}
	row, err := s.loadOwnedAddress(ctx, userID, *addressID)
	if err != nil {
		return types.Address{}, err
	}
	return Snapshot(row), nil
}

func (s *service) loadOwnedAddress(ctx context.Context, userID, addressID uuid.UUID) (*models.UserAddress, error) {
	row, err := s.repo.FindAddress(ctx, userID, addressID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "address not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load address")
	}
	return row, nil
}

func validateAddress(input AddressInput) error {
	required := map[string]string{
		"full_name":   input.FullName,
		"phone":       input.Phone,
		"line1":       input.Line1,
		"city":        input.City,
		"state":       input.State,
		"postal_code": input.PostalCode,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, field+" required")
		}
	}
	return nil
}
