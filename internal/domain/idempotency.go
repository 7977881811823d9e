// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// UpdateReceipt records that a webhook delivery was accepted, keyed by the
// platform's update id. The platform redelivers an update when it does not
// see a timely 2xx, so a second delivery with the same id must not trigger
// its side effects (publishing, join accounting) again.
type UpdateReceipt struct {
	UpdateID   int64     `gorm:"primaryKey;autoIncrement:false"`
	ReceivedAt time.Time `gorm:"type:DATETIME NOT NULL"`
	ExpiresAt  time.Time `gorm:"type:DATETIME NOT NULL;index:idx_receipts_expires"`
}

// TableName implements the GORM tabler interface.
func (UpdateReceipt) TableName() string { return "update_receipts" }
