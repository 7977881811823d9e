package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-relay-bot/internal/gateway"
	"github.com/tbourn/go-relay-bot/internal/http/middleware"
	"github.com/tbourn/go-relay-bot/internal/repo"
)

const hookPath = "/telegram/webhook"

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// jsonDecoder reads {"id":N,"skip":bool} bodies.
type jsonDecoder struct{}

func (jsonDecoder) Decode(body io.Reader) (gateway.Update, bool, error) {
	var in struct {
		ID   int64 `json:"id"`
		Skip bool  `json:"skip"`
	}
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		return gateway.Update{}, false, err
	}
	return gateway.Update{ID: in.ID, Kind: gateway.KindText}, !in.Skip, nil
}

type recordingSink struct {
	mu   sync.Mutex
	got  []int64
	fail error
}

func (s *recordingSink) Enqueue(_ context.Context, upd gateway.Update) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, upd.ID)
	return nil
}

type memReceipts struct {
	mu       sync.Mutex
	seen     map[int64]bool
	released []int64
	fail     error
}

func newMemReceipts() *memReceipts { return &memReceipts{seen: map[int64]bool{}} }

func (m *memReceipts) Claim(_ context.Context, id int64) error {
	if m.fail != nil {
		return m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return repo.ErrDuplicate
	}
	m.seen[id] = true
	return nil
}

func (m *memReceipts) Release(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	m.released = append(m.released, id)
	return nil
}

func newHookRouter(w *Webhook) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.WebhookGuard(middleware.WebhookOptions{Path: hookPath, Secret: "s3cret"}))
	r.POST(hookPath, w.Receive)
	return r
}

func deliver(r http.Handler, body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, hookPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(middleware.HeaderWebhook, secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_AcceptsAndDropsRedeliveries(t *testing.T) {
	sink := &recordingSink{}
	rec := newMemReceipts()
	r := newHookRouter(NewWebhook(jsonDecoder{}, sink, rec, 0))

	for i := 0; i < 3; i++ {
		if w := deliver(r, `{"id":7}`, "s3cret"); w.Code != http.StatusNoContent {
			t.Fatalf("delivery %d: status=%d", i, w.Code)
		}
	}
	if w := deliver(r, `{"id":8}`, "s3cret"); w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}
	if len(sink.got) != 2 || sink.got[0] != 7 || sink.got[1] != 8 {
		t.Fatalf("enqueued=%v, want [7 8]", sink.got)
	}
}

func TestWebhook_IgnoredUpdatesAreAcknowledged(t *testing.T) {
	sink := &recordingSink{}
	rec := newMemReceipts()
	r := newHookRouter(NewWebhook(jsonDecoder{}, sink, rec, 0))

	if w := deliver(r, `{"id":5,"skip":true}`, "s3cret"); w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}
	if len(sink.got) != 0 || len(rec.seen) != 0 {
		t.Fatalf("ignored update must not be queued or claimed")
	}
}

func TestWebhook_BadPayload(t *testing.T) {
	r := newHookRouter(NewWebhook(jsonDecoder{}, &recordingSink{}, nil, 0))
	w := deliver(r, `{not json`, "s3cret")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if er.Code != ErrCodeBadRequest {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestWebhook_RejectsWithoutSecret(t *testing.T) {
	sink := &recordingSink{}
	r := newHookRouter(NewWebhook(jsonDecoder{}, sink, nil, 0))
	if w := deliver(r, `{"id":1}`, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}

	// Mounted without the guard, the handler still refuses.
	gin.SetMode(gin.TestMode)
	bare := gin.New()
	bare.POST(hookPath, NewWebhook(jsonDecoder{}, sink, nil, 0).Receive)
	if w := deliver(bare, `{"id":1}`, "s3cret"); w.Code != http.StatusUnauthorized {
		t.Fatalf("unguarded status=%d", w.Code)
	}
	if len(sink.got) != 0 {
		t.Fatalf("nothing may be queued")
	}
}

func TestWebhook_QueueFullReleasesClaim(t *testing.T) {
	captureLogs(t)
	sink := &recordingSink{fail: context.DeadlineExceeded}
	rec := newMemReceipts()
	r := newHookRouter(NewWebhook(jsonDecoder{}, sink, rec, 0))

	w := deliver(r, `{"id":11}`, "s3cret")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if len(rec.released) != 1 || rec.released[0] != 11 {
		t.Fatalf("released=%v", rec.released)
	}

	// The platform's retry goes through once the queue drains.
	sink.fail = nil
	if w := deliver(r, `{"id":11}`, "s3cret"); w.Code != http.StatusNoContent {
		t.Fatalf("retry status=%d", w.Code)
	}
	if len(sink.got) != 1 {
		t.Fatalf("enqueued=%v", sink.got)
	}
}

func TestWebhook_ReceiptStoreFailure(t *testing.T) {
	captureLogs(t)
	sink := &recordingSink{}
	rec := newMemReceipts()
	rec.fail = errors.New("db locked")
	r := newHookRouter(NewWebhook(jsonDecoder{}, sink, rec, 0))

	if w := deliver(r, `{"id":3}`, "s3cret"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if len(sink.got) != 0 {
		t.Fatalf("update queued without a receipt")
	}
}
