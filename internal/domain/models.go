// Package domain defines the persistence models for relay users and the
// messages they publish to the channel. These types are mapped with GORM and
// form the core data layer of the relay bot.
package domain

import "time"

// User is the pseudonymous identity of a person who talks to the bot.
//
// Fields:
//   - InternalID: stable UUID primary key (char(36)); never shown to other users.
//   - ExternalID: platform chat identity; unique, so concurrent first contact
//     from the same chat collapses into a single row.
//   - CreatedAt: first contact timestamp.
type User struct {
	InternalID string    `json:"internal_id" gorm:"type:char(36);primaryKey"`
	ExternalID int64     `json:"external_id" gorm:"not null;uniqueIndex:ux_users_external"`
	CreatedAt  time.Time `json:"created_at"  gorm:"index:idx_users_created"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Message is a post that was published to the channel on behalf of a user.
// It is created only after the platform confirmed the channel send, so
// ChannelPostID is always populated.
//
// Fields:
//   - Token: opaque UUID used in deep-links; a bearer capability for the
//     detail view.
//   - ChannelPostID: platform id of the channel post (unique).
//   - AuthorID: InternalID of the author (reference, not ownership).
//   - Body: submitted text, immutable.
//   - JoinCount: number of brand-new users who arrived through this
//     message's deep-link.
//   - CreatedAt: publication timestamp.
type Message struct {
	Token         string    `json:"token"           gorm:"type:char(36);primaryKey"`
	ChannelPostID int64     `json:"channel_post_id" gorm:"not null;uniqueIndex:ux_messages_post"`
	AuthorID      string    `json:"-"               gorm:"type:char(36);not null;index:idx_messages_author"`
	Body          string    `json:"body"            gorm:"type:text;not null"`
	JoinCount     int       `json:"join_count"      gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at"`

	// Author is the referenced user. Users are never deleted, so the
	// constraint only guards against dangling author ids.
	Author User `json:"-" gorm:"foreignKey:AuthorID;references:InternalID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
