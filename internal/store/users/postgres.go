// SPDX-License-Identifier: MIT

package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ManuGH/flockd/internal/session/model"
	"gorm.io/gorm"
)

const registerRetries = 3

// PostgresStore stores accounts in Postgres via gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore wraps an already opened gorm handle and migrates the
// users table.
func NewPostgresStore(ctx context.Context, db *gorm.DB) (*PostgresStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&Account{}); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Register(ctx context.Context, phone, password string) (*Account, error) {
	phone = model.NormalizePhone(phone)
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	// The allocated ID is MAX+1 within the web-tier range; a concurrent
	// registration surfaces as a primary-key violation and retries with a
	// fresh ID. The unique phone index stays authoritative for ErrPhoneTaken.
	var lastErr error
	for attempt := 0; attempt < registerRetries; attempt++ {
		acct := &Account{
			Phone:        phone,
			PasswordHash: hash,
			CreatedAt:    time.Now(),
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var next int64
			if err := tx.Raw(
				"SELECT COALESCE(MAX(user_id)+1, ?) FROM users WHERE user_id >= ?",
				model.WebTierThreshold, model.WebTierThreshold,
			).Scan(&next).Error; err != nil {
				return err
			}
			acct.UserID = next
			return tx.Create(acct).Error
		})
		if err == nil {
			return acct, nil
		}
		if isUniqueViolation(err, "phone") {
			return nil, ErrPhoneTaken
		}
		if !isUniqueViolation(err, "") {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// isUniqueViolation matches Postgres unique-constraint errors, optionally
// narrowed to a column name appearing in the constraint.
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return column == "" || strings.Contains(err.Error(), column)
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key") && !strings.Contains(msg, "23505") {
		return false
	}
	return column == "" || strings.Contains(msg, column)
}

func (s *PostgresStore) Authenticate(ctx context.Context, phone, password string) (*Account, error) {
	acct, err := s.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := checkPassword(acct.PasswordHash, password); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *PostgresStore) GetByPhone(ctx context.Context, phone string) (*Account, error) {
	var acct Account
	err := s.db.WithContext(ctx).First(&acct, "phone = ?", model.NormalizePhone(phone)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, userID int64) (*Account, error) {
	var acct Account
	err := s.db.WithContext(ctx).First(&acct, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Close is a no-op; the shared handle is owned by the caller.
func (s *PostgresStore) Close(ctx context.Context) error { return nil }
