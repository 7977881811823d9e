// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate counters behind the
// /stats command and the HTTP stats endpoint.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-relay-bot/internal/domain"
)

// Stats is a point-in-time snapshot of the relay's size.
type Stats struct {
	Users         int64      `json:"users"`
	Messages      int64      `json:"messages"`
	Joins         int64      `json:"joins"`
	LastPublished *time.Time `json:"last_published,omitempty"`
}

// LoadStats returns user and message counts, the total join count across all
// messages, and the creation time of the most recent message (nil if none).
func LoadStats(ctx context.Context, db *gorm.DB) (Stats, error) {
	var s Stats
	var err error

	if s.Users, err = CountUsers(ctx, db); err != nil {
		return Stats{}, err
	}
	if s.Messages, err = CountMessages(ctx, db); err != nil {
		return Stats{}, err
	}
	if s.Messages == 0 {
		return s, nil
	}

	q := db.WithContext(ctx).Model(&domain.Message{})
	if err = q.Select("COALESCE(SUM(join_count), 0)").Scan(&s.Joins).Error; err != nil {
		return Stats{}, err
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Message{}).
		Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return Stats{}, err
	}
	s.LastPublished = &row.CreatedAt
	return s, nil
}
