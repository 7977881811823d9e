// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a user is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Functions:
//
//   - GetOrCreateUser(ctx, db, externalID) -> *domain.User, created, error
//     Inserts with ON CONFLICT DO NOTHING and fetches the surviving row, so
//     two concurrent first contacts converge on one record.
//
//   - FindUserByInternalID(ctx, db, id) -> *domain.User, error
//
//   - FindUserByExternalID(ctx, db, externalID) -> *domain.User, error
//
//   - CountUsers(ctx, db) -> int64, error
//
//   - ListUsers(ctx, db, offset, limit) -> []domain.User, error
//     Returns users ordered by first contact (oldest first).
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-relay-bot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetOrCreateUser returns the user registered for externalID, creating it on
// first contact. The boolean reports whether this call inserted the row.
//
// The insert relies on the unique index over external_id: a losing
// concurrent writer inserts nothing and reads the winner's record instead of
// failing.
func GetOrCreateUser(ctx context.Context, db *gorm.DB, externalID int64) (*domain.User, bool, error) {
	u := &domain.User{
		InternalID: uuid.NewString(),
		ExternalID: externalID,
		CreatedAt:  time.Now().UTC(),
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(u)
	if res.Error != nil && !isDuplicate(res.Error) {
		return nil, false, res.Error
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return u, true, nil
	}

	existing, err := FindUserByExternalID(ctx, db, externalID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindUserByInternalID fetches a user by its pseudonymous id, or ErrNotFound.
func FindUserByInternalID(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("internal_id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByExternalID fetches a user by its platform identity, or ErrNotFound.
func FindUserByExternalID(ctx context.Context, db *gorm.DB, externalID int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// CountUsers returns the number of registered users.
func CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.User{}).Count(&total).Error
	return total, err
}

// ListUsers returns a page of users ordered by first contact, oldest first.
// A limit <= 0 returns every user and ignores offset.
func ListUsers(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error) {
	var out []domain.User
	q := db.WithContext(ctx).Order("created_at ASC, internal_id ASC")
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// isDuplicate attempts to detect unique-constraint violations across drivers
// that may not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
