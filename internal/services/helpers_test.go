package services

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-relay-bot/internal/domain"
	"github.com/tbourn/go-relay-bot/internal/repo"
)

// ---------- test helpers ----------

// newSvcDB opens a migrated, file-backed database so concurrent writers
// behave like production.
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func seedUsers(t *testing.T, db *gorm.DB, ids ...int64) []domain.User {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	out := make([]domain.User, 0, len(ids))
	for i, ext := range ids {
		u := domain.User{
			InternalID: fmt.Sprintf("user-%d", i),
			ExternalID: ext,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := db.Create(&u).Error; err != nil {
			t.Fatalf("seed user %d: %v", ext, err)
		}
		out = append(out, u)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// manualScheduler is a Scheduler driven by Advance instead of wall time.
type manualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []scheduled
}

type scheduled struct {
	at time.Duration
	f  func()
}

func (m *manualScheduler) AfterFunc(d time.Duration, f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, scheduled{at: m.now + d, f: f})
}

func (m *manualScheduler) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *manualScheduler) delays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, 0, len(m.tasks))
	for _, s := range m.tasks {
		out = append(out, s.at)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Advance moves the clock and runs every due task on the calling goroutine,
// in due order.
func (m *manualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	var due, rest []scheduled
	for _, s := range m.tasks {
		if s.at <= m.now {
			due = append(due, s)
		} else {
			rest = append(rest, s)
		}
	}
	m.tasks = rest
	m.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, s := range due {
		s.f()
	}
}
