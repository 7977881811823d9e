package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-relay-bot/internal/bot"
	"github.com/tbourn/go-relay-bot/internal/config"
	"github.com/tbourn/go-relay-bot/internal/gateway"
	"github.com/tbourn/go-relay-bot/internal/http/handlers"
	"github.com/tbourn/go-relay-bot/internal/http/middleware"
	"github.com/tbourn/go-relay-bot/internal/repo"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{AllowedOrigins: nil},
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Bot: config.BotConfig{
			Username:        "alone_speakbot",
			ChannelUsername: "alone_speakchnl",
			DisplayCap:      30,
			WebhookSecret:   "s3cret",
			UpdateTimeout:   50 * time.Millisecond,
		},
	}
}

// idDecoder reads {"id":N} bodies.
type idDecoder struct{}

func (idDecoder) Decode(body io.Reader) (gateway.Update, bool, error) {
	var in struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		return gateway.Update{}, false, err
	}
	return gateway.Update{ID: in.ID, Kind: gateway.KindText}, true, nil
}

func serve(r http.Handler, method, path string, body io.Reader, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, testConfig())

	// /health works
	w := serve(r, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = serve(r, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	if w = serve(r, http.MethodGet, "/nope", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	if w = serve(r, http.MethodPost, "/health", nil, nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Polling mode: no webhook route.
	w = serve(r, http.MethodPost, WebhookPath, strings.NewReader(`{"id":1}`),
		map[string]string{middleware.HeaderWebhook: "s3cret"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("webhook without sink expected 404, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	RegisterRoutes(r, newTestDB(t), nil, cfg)

	w := serve(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_RootAndAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, db, nil, testConfig())

	ctx := context.Background()
	u, _, err := repo.GetOrCreateUser(ctx, db, 10)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	token := uuid.NewString()
	if _, err := repo.CreateMessage(ctx, db, token, 42, u.InternalID, "hello world"); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	w := serve(r, http.MethodGet, "/", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"run"`) ||
		!strings.Contains(w.Body.String(), "@alone_speakbot") {
		t.Fatalf("GET / = %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/v1/stats", nil, nil)
	var st repo.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil || w.Code != http.StatusOK {
		t.Fatalf("GET stats = %d %s", w.Code, w.Body.String())
	}
	if st.Users != 1 || st.Messages != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	w = serve(r, http.MethodGet, "/api/v1/messages/"+token, nil, nil)
	var v handlers.MessageView
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil || w.Code != http.StatusOK {
		t.Fatalf("GET message = %d %s", w.Code, w.Body.String())
	}
	if v.PostURL != "https://t.me/alone_speakchnl/42" || v.Preview != "hello world" {
		t.Fatalf("unexpected view: %+v", v)
	}
	if w.Header().Get("ETag") == "" {
		t.Fatalf("expected ETag")
	}
	if got := w.Header().Get("Cache-Control"); got != "private, no-cache" {
		t.Fatalf("Cache-Control = %q; detail views must revalidate", got)
	}

	if w = serve(r, http.MethodGet, "/api/v1/messages/not-a-token", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown token = %d", w.Code)
	}
}

func TestRegisterRoutes_Gzip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, testConfig())

	w := serve(r, http.MethodGet, "/api/v1/stats", nil, map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding=%q", got)
	}
}

func TestRegisterRoutes_WebhookDedup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	q := bot.NewQueue(1)
	RegisterRoutes(r, db, &Updates{Decoder: idDecoder{}, Sink: q}, testConfig())

	hdr := map[string]string{middleware.HeaderWebhook: "s3cret", "Content-Type": "application/json"}

	if w := serve(r, http.MethodPost, WebhookPath, strings.NewReader(`{"id":7}`), nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret = %d", w.Code)
	}

	for i := 0; i < 2; i++ {
		if w := serve(r, http.MethodPost, WebhookPath, strings.NewReader(`{"id":7}`), hdr); w.Code != http.StatusNoContent {
			t.Fatalf("delivery %d = %d", i, w.Code)
		}
	}
	if len(q) != 1 {
		t.Fatalf("queued=%d, want 1", len(q))
	}

	// Queue full: the claim is released so the retry is processed later.
	if w := serve(r, http.MethodPost, WebhookPath, strings.NewReader(`{"id":8}`), hdr); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("full queue = %d", w.Code)
	}
	<-q
	if w := serve(r, http.MethodPost, WebhookPath, strings.NewReader(`{"id":8}`), hdr); w.Code != http.StatusNoContent {
		t.Fatalf("retry = %d", w.Code)
	}
	if got := (<-q).ID; got != 8 {
		t.Fatalf("queued id=%d", got)
	}
}

func TestRegisterRoutes_WebhookBypassesRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	q := bot.NewQueue(10)
	RegisterRoutes(r, newTestDB(t), &Updates{Decoder: idDecoder{}, Sink: q}, cfg)

	hdr := map[string]string{middleware.HeaderWebhook: "s3cret"}
	for i := int64(1); i <= 3; i++ {
		body := strings.NewReader(`{"id":` + strconv.FormatInt(i, 10) + `}`)
		if w := serve(r, http.MethodPost, WebhookPath, body, hdr); w.Code != http.StatusNoContent {
			t.Fatalf("delivery %d = %d", i, w.Code)
		}
	}

	// Ordinary clients are limited.
	serve(r, http.MethodGet, "/health", nil, nil)
	if w := serve(r, http.MethodGet, "/health", nil, nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second /health = %d, want 429", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB"), nil) // 12 bytes
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := serve(r, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func Test_receiptShim_Proxies(t *testing.T) {
	db := newTestDB(t)
	shim := receiptShim{db: db, ttl: time.Hour}
	ctx := context.Background()

	if err := shim.Claim(ctx, 99); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := shim.Claim(ctx, 99); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("second Claim err=%v, want ErrDuplicate", err)
	}
	if err := shim.Release(ctx, 99); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := shim.Claim(ctx, 99); err != nil {
		t.Fatalf("Claim after release: %v", err)
	}
}
