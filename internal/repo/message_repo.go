// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-relay-bot/internal/domain"
)

// CreateMessage inserts a published message. The token is minted by the
// caller; channelPostID is the id the platform returned for the channel send.
func CreateMessage(ctx context.Context, db *gorm.DB, token string, channelPostID int64, authorID, body string) (*domain.Message, error) {
	m := &domain.Message{
		Token:         token,
		ChannelPostID: channelPostID,
		AuthorID:      authorID,
		Body:          body,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// FindMessageByToken fetches a message by its reference token.
func FindMessageByToken(ctx context.Context, db *gorm.DB, token string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("token = ?", token).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// FindMessageByChannelPostID fetches the message published as the given
// channel post.
func FindMessageByChannelPostID(ctx context.Context, db *gorm.DB, postID int64) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("channel_post_id = ?", postID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// IncrementJoinCount atomically adds one to the message's join counter.
// Returns ErrNotFound when no message carries the token.
func IncrementJoinCount(ctx context.Context, db *gorm.DB, token string) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("token = ?", token).
		UpdateColumn("join_count", gorm.Expr("join_count + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages").Scan(&total).Error
	return total, err
}
