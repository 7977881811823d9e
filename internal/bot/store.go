package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore persists Session values per chat. A chat never seen before
// loads as NewSession().
type SessionStore interface {
	Load(ctx context.Context, chatID int64) (Session, error)
	Save(ctx context.Context, chatID int64, s Session) error
}

// MemoryStore keeps sessions in process memory; they are lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]Session)}
}

func (m *MemoryStore) Load(_ context.Context, chatID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[chatID]; ok {
		return s, nil
	}
	return NewSession(), nil
}

func (m *MemoryStore) Save(_ context.Context, chatID int64, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[chatID] = s
	return nil
}

// RedisStore keeps sessions as JSON under "<prefix><chatID>" with a sliding
// TTL, so several relay processes can share conversation state.
type RedisStore struct {
	Client redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis session store: %w", err)
	}
	return &RedisStore{Client: client, Prefix: "relay:session:", TTL: ttl}, nil
}

func (r *RedisStore) key(chatID int64) string {
	return r.Prefix + strconv.FormatInt(chatID, 10)
}

func (r *RedisStore) Load(ctx context.Context, chatID int64) (Session, error) {
	raw, err := r.Client.Get(ctx, r.key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewSession(), nil
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// A corrupt entry only costs the user their place in the dialogue.
		return NewSession(), nil
	}
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, chatID int64, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, r.key(chatID), raw, r.TTL).Err()
}

// Close releases the underlying client.
func (r *RedisStore) Close() error { return r.Client.Close() }
