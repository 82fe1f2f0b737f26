package repositories

import (
	"errors"
	"strings"

	"handmade/internal/models"
)

// ErrEmailTaken is returned by Create when another account already uses the email.
var ErrEmailTaken = errors.New("email already registered")

// UserRepository stores seller accounts. Emails are matched case-insensitively
// and stored lowercased.
type UserRepository interface {
	Create(user *models.User) error
	GetByEmail(email string) (*models.User, error)
	GetByID(id string) (*models.User, error)
}

// NormalizeEmail is the form every repository stores and looks emails up by.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
