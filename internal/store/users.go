package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrUserNotFound is returned when a user is not found.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when a username is already taken.
	ErrUserExists = errors.New("username already exists")
)

// UserDirectory provides access to the registered user set.
type UserDirectory struct {
	db *gorm.DB
}

// NewUserDirectory creates a UserDirectory backed by db.
func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// Register creates a user with the given credential hash.
func (d *UserDirectory) Register(username, passwordHash string) error {
	exists, err := d.Exists(username)
	if err != nil {
		return err
	}
	if exists {
		return ErrUserExists
	}
	user := &User{Username: username, PasswordHash: passwordHash}
	if err := d.db.Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Ensure creates the user without credentials if it does not already exist.
// Used for the lazy registration that happens on first room join.
func (d *UserDirectory) Ensure(username string) error {
	var user User
	err := d.db.Where(User{Username: username}).FirstOrCreate(&user).Error
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// Exists reports whether a user with the given username is registered.
func (d *UserDirectory) Exists(username string) (bool, error) {
	var count int64
	err := d.db.Model(&User{}).Where("username = ?", username).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// FindByUsername returns the user record for credential verification.
func (d *UserDirectory) FindByUsername(username string) (*User, error) {
	var user User
	err := d.db.First(&user, "username = ?", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// List returns all registered usernames in ascending order.
func (d *UserDirectory) List() ([]string, error) {
	var usernames []string
	err := d.db.Model(&User{}).Order("username ASC").Pluck("username", &usernames).Error
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return usernames, nil
}
