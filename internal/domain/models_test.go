package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&User{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if (User{}).TableName() != "users" {
		t.Fatalf("User.TableName() = %q; want %q", (User{}).TableName(), "users")
	}
	if (Message{}).TableName() != "messages" {
		t.Fatalf("Message.TableName() = %q; want %q", (Message{}).TableName(), "messages")
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	for _, idx := range []struct {
		model any
		name  string
	}{
		{&User{}, "ux_users_external"},
		{&User{}, "idx_users_created"},
		{&Message{}, "ux_messages_post"},
		{&Message{}, "idx_messages_author"},
	} {
		if !m.HasIndex(idx.model, idx.name) {
			t.Fatalf("expected index %s on %T", idx.name, idx.model)
		}
	}
}

func TestUniqueConstraints(t *testing.T) {
	db := newDomainDB(t)
	now := time.Now().UTC()

	if err := db.Create(&User{InternalID: "u-1", ExternalID: 100, CreatedAt: now}).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := db.Create(&User{InternalID: "u-2", ExternalID: 100, CreatedAt: now}).Error; err == nil {
		t.Fatalf("expected unique violation on external_id")
	}

	if err := db.Create(&Message{Token: "t-1", ChannelPostID: 42, AuthorID: "u-1", Body: "hi", CreatedAt: now}).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if err := db.Create(&Message{Token: "t-2", ChannelPostID: 42, AuthorID: "u-1", Body: "again", CreatedAt: now}).Error; err == nil {
		t.Fatalf("expected unique violation on channel_post_id")
	}

	var got Message
	if err := db.First(&got, "token = ?", "t-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.JoinCount != 0 || got.Body != "hi" {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestForeignKey_RejectsUnknownAuthor(t *testing.T) {
	db := newDomainDB(t)
	err := db.Create(&Message{Token: "t-x", ChannelPostID: 7, AuthorID: "missing", Body: "x", CreatedAt: time.Now()}).Error
	if err == nil {
		t.Fatalf("expected FK violation for unknown author")
	}
}
