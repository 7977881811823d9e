// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the webhook delivery receipts that make
// update handling safe against platform redeliveries.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-relay-bot/internal/domain"
)

// ErrDuplicate indicates that an update id was already claimed.
var ErrDuplicate = errors.New("duplicate")

// ClaimUpdate records updateID as received. It returns ErrDuplicate when an
// unexpired receipt already exists, so the caller can acknowledge the
// delivery without processing it again. An expired receipt is replaced.
func ClaimUpdate(ctx context.Context, db *gorm.DB, updateID int64, ttl time.Duration) error {
	now := time.Now().UTC()
	rec := &domain.UpdateReceipt{
		UpdateID:   updateID,
		ReceivedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("update_id = ? AND expires_at <= ?", updateID, now).
			Delete(&domain.UpdateReceipt{}).Error; err != nil {
			return err
		}
		if err := tx.Create(rec).Error; err != nil {
			if isDuplicate(err) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
}

// ReleaseUpdate forgets a claim so a later redelivery is processed. Used when
// an update was claimed but could not be queued.
func ReleaseUpdate(ctx context.Context, db *gorm.DB, updateID int64) error {
	return db.WithContext(ctx).
		Where("update_id = ?", updateID).
		Delete(&domain.UpdateReceipt{}).Error
}

// PurgeReceipts deletes receipts that expired at or before now and returns
// how many were removed.
func PurgeReceipts(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.UpdateReceipt{})
	return res.RowsAffected, res.Error
}
