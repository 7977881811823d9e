package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func withCapturedLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf) // plain JSON lines
	return &buf
}

func TestRedactingLogger_MessageRouteAndHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-resp")
		c.Next()
	})
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/api/v1/messages/:token", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"joins": 1}) })

	const token = "5b0f1d0e-8c55-4a4f-9a3e-2c1d7b6a9e10"
	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/"+token+"?from=a.b+tag@example.com&tel=+1-555-123-4567", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "sid=topsecret")
	req.Header.Set("X-Api-Key", "shhh")
	req.Header.Set(HeaderWebhook, "hook-secret")
	req.Header.Set("X-Custom", "email a@b.com id="+token+" phone 555-123-4567")
	req.Header.Set("X-Request-ID", "rid-req")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	logs := buf.String()
	checks := []struct {
		what string
		ok   bool
	}{
		{"info level", strings.Contains(logs, `"level":"info"`)},
		{"route pattern as path", strings.Contains(logs, `"path":"/api/v1/messages/:token"`)},
		{"token never logged", !strings.Contains(logs, token)},
		{"response request id wins", strings.Contains(logs, `"request_id":"rid-resp"`)},
		{"query redacted", strings.Contains(logs, "[REDACTED:email]") && strings.Contains(logs, "[REDACTED:phone]")},
		{"authorization masked", strings.Contains(logs, `"Authorization":"[REDACTED]"`)},
		{"cookie masked", strings.Contains(logs, `"Cookie":"[REDACTED]"`)},
		{"custom header masked", strings.Contains(logs, `"X-Api-Key":"[REDACTED]"`)},
		{"webhook secret masked", !strings.Contains(logs, "hook-secret") && strings.Contains(logs, `"X-Telegram-Bot-Api-Secret-Token":"[REDACTED]"`)},
		{"free-form header scrubbed", strings.Contains(logs, `"X-Custom":"email [REDACTED:email] id=[REDACTED:id] phone [REDACTED:phone]"`)},
	}
	for _, c := range checks {
		if !c.ok {
			t.Fatalf("%s: %s", c.what, logs)
		}
	}
}

func TestRedactingLogger_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.POST("/telegram/webhook", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })
	r.GET("/api/v1/stats", func(c *gin.Context) {
		_ = c.Error(errors.New("count users: database is locked"))
		c.JSON(http.StatusOK, gin.H{})
	})

	cases := []struct {
		method, path, rid, level string
	}{
		{http.MethodGet, "/api/v1/missing", "rid-warn", "warn"},
		{http.MethodPost, "/telegram/webhook", "rid-5xx", "error"},
		{http.MethodGet, "/api/v1/stats", "rid-ctxerr", "error"},
	}
	for _, tc := range cases {
		buf.Reset()
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set("X-Request-ID", tc.rid)
		r.ServeHTTP(httptest.NewRecorder(), req)

		logs := buf.String()
		if !strings.Contains(logs, `"level":"`+tc.level+`"`) || !strings.Contains(logs, `"request_id":"`+tc.rid+`"`) {
			t.Fatalf("%s %s: want level %s with request id fallback, got %s", tc.method, tc.path, tc.level, logs)
		}
	}
	if !strings.Contains(buf.String(), "database is locked") {
		t.Fatalf("context errors should be logged: %s", buf.String())
	}
}

func TestRedactingLogger_BotTokenInUnmatchedPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	buf := withCapturedLogger(t)
	r.Use(RedactingLogger(RedactOptions{}))

	// No route matches, so the raw path is logged and must be scrubbed.
	token := "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw_x"
	req := httptest.NewRequest(http.MethodGet, "/bot"+token+"/getMe?t="+token, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	logs := buf.String()
	if strings.Contains(logs, "AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw_x") {
		t.Fatalf("bot token leaked: %s", logs)
	}
	if !strings.Contains(logs, "[REDACTED:token]") {
		t.Fatalf("expected token redaction marker: %s", logs)
	}
	if !strings.Contains(logs, `"level":"warn"`) {
		t.Fatalf("404 should log at warn: %s", logs)
	}
}

func TestRedact_Order(t *testing.T) {
	in := "id=123e4567-e89b-12d3-a456-426614174000 tel 212 555 1212"
	got := redact(in)
	if got != "id=[REDACTED:id] tel [REDACTED:phone]" {
		t.Fatalf("redact(%q) = %q", in, got)
	}
	if redact("") != "" {
		t.Fatalf("empty input must stay empty")
	}
}
