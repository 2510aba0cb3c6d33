// SPDX-License-Identifier: MIT

// Package users stores web-tier self-service accounts: phone number, bcrypt
// password hash and the allocated external user ID. Only the web tier
// touches this package; native-tier user IDs come from outside.
package users

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/flockd/internal/session/model"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPhoneTaken         = errors.New("users: phone number already registered")
	ErrInvalidCredentials = errors.New("users: invalid phone number or password")
	ErrNotFound           = errors.New("users: account not found")
)

// Account is one registered web-tier user.
type Account struct {
	UserID       int64     `json:"userId" bson:"userId" gorm:"primaryKey;column:user_id"`
	Phone        string    `json:"phone" bson:"phone" gorm:"column:phone;uniqueIndex"`
	PasswordHash string    `json:"-" bson:"passwordHash" gorm:"column:password_hash"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt" gorm:"column:created_at"`
}

// TableName pins the gorm table name.
func (Account) TableName() string { return "users" }

// SessionID returns the canonical session ID for this account.
func (a *Account) SessionID() string { return model.SessionIDFor(a.UserID) }

// Store is the account contract shared by every backing.
//
// Register allocates a user ID in the web-tier range (at or above
// model.WebTierThreshold) and must never hand out the same ID twice.
type Store interface {
	Register(ctx context.Context, phone, password string) (*Account, error)
	Authenticate(ctx context.Context, phone, password string) (*Account, error)
	GetByPhone(ctx context.Context, phone string) (*Account, error)
	GetByID(ctx context.Context, userID int64) (*Account, error)
	Close(ctx context.Context) error
}

// hashPassword wraps bcrypt with the default cost.
func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// checkPassword maps any bcrypt mismatch to ErrInvalidCredentials.
func checkPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
