package repositories

import (
	"errors"
	"fmt"
	"time"

	"handmade/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMUserRepository keeps seller accounts in the users table.
type GORMUserRepository struct {
	db *gorm.DB
}

// NewGORMUserRepository creates a new instance of GORMUserRepository.
func NewGORMUserRepository(db *gorm.DB) *GORMUserRepository {
	return &GORMUserRepository{
		db: db,
	}
}

// Create stores a new account. The email check and the insert share one
// transaction; the unique index still backs it up across processes.
func (r *GORMUserRepository) Create(user *models.User) error {
	user.Email = NormalizeEmail(user.Email)
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&models.User{}).Where("email = ?", user.Email).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return fmt.Errorf("%s: %w", user.Email, ErrEmailTaken)
		}
		return tx.Create(user).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByEmail looks an account up by its normalized email.
func (r *GORMUserRepository) GetByEmail(email string) (*models.User, error) {
	email = NormalizeEmail(email)
	return r.first("email = ?", email, "user with email "+email)
}

// GetByID looks an account up by ID.
func (r *GORMUserRepository) GetByID(id string) (*models.User, error) {
	return r.first("id = ?", id, "user with ID "+id)
}

func (r *GORMUserRepository) first(cond, arg, what string) (*models.User, error) {
	var user models.User
	if err := r.db.Where(cond, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s %w", what, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return &user, nil
}
