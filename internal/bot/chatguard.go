package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// chatLocks serializes handling within one chat while letting different
// chats proceed concurrently. Entries are reference counted and removed
// once no handler holds or waits for them.
type chatLocks struct {
	mu    sync.Mutex
	chats map[int64]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{chats: make(map[int64]*chatLock)}
}

// lock blocks until chatID is free and returns the matching unlock.
func (l *chatLocks) lock(chatID int64) func() {
	l.mu.Lock()
	cl, ok := l.chats[chatID]
	if !ok {
		cl = &chatLock{}
		l.chats[chatID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.chats, chatID)
		}
		l.mu.Unlock()
	}
}

func (l *chatLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chats)
}

// chatLimiter is a per-chat token bucket guarding against button mashing
// and flooding. Idle buckets are evicted opportunistically.
type chatLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[int64]*visitor
	ttl      time.Duration
	cleanupN uint64
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newChatLimiter returns nil (no limiting) when rps <= 0.
func newChatLimiter(rps float64, burst int) *chatLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &chatLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[int64]*visitor),
		ttl:      10 * time.Minute,
	}
}

func (cl *chatLimiter) allow(chatID int64) bool {
	if cl == nil {
		return true
	}
	now := time.Now()

	cl.mu.Lock()
	cl.cleanupN++
	if cl.cleanupN >= 5000 {
		for k, v := range cl.visitors {
			if now.Sub(v.lastSeen) >= cl.ttl {
				delete(cl.visitors, k)
			}
		}
		cl.cleanupN = 0
	}
	v, ok := cl.visitors[chatID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(cl.rps, cl.burst)}
		cl.visitors[chatID] = v
	}
	v.lastSeen = now
	lim := v.limiter
	cl.mu.Unlock()

	return lim.Allow()
}
