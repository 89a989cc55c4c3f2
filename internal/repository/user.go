package repository

import (
	"context"
	"errors"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/aman-churiwal/admission-gateway/internal/tier"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *storage.Database
}

func NewUserRepository(db *storage.Database) *UserRepository {
	return &UserRepository{db: db}
}

// Inserts a new user into the database
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.DB.WithContext(ctx).Create(user).Error
}

// Retrieves user by email
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.DB.WithContext(ctx).
		Where("email = ?", email).
		First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Retrieves user by id
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.DB.WithContext(ctx).
		Order("created_at DESC").
		Find(&users).Error

	return users, err
}

// PlanFor returns the stored plan of a user, "" when the user does not exist.
func (r *UserRepository) PlanFor(ctx context.Context, userID string) (string, error) {
	user, err := r.FindByID(ctx, userID)
	if err != nil || user == nil {
		return "", err
	}
	return user.Plan, nil
}

// Changes the plan of a user and moves every key the user owns to the
// matching rate limit tier. Returns false when the user does not exist
func (r *UserRepository) ChangePlan(ctx context.Context, userID string, plan tier.Plan) (bool, error) {
	found := false
	err := r.db.Transaction(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).Where("id = ?", userID).Update("plan", string(plan))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		found = true

		return tx.Model(&models.APIKey{}).
			Where("user_id = ?", userID).
			Update("tier", string(tier.ForPlan(string(plan)))).Error
	})

	return found, err
}
