// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file authenticates platform webhook deliveries. The platform echoes
// the secret configured with setWebhook in a request header; requests to
// the webhook path without the right secret are rejected before any body is
// read. Authenticated deliveries are flagged so the per-IP rate limiter lets
// them through: every delivery comes from the same few platform addresses.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderWebhook is the header carrying the webhook secret.
const HeaderWebhook = "X-Telegram-Bot-Api-Secret-Token"

// Context keys used internally to stash webhook state.
const (
	ctxKeyWebhook    = "webhook.ok"
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// WebhookOptions configures WebhookGuard.
type WebhookOptions struct {
	// Path is the exact request path of the webhook route.
	Path string
	// Secret must match HeaderWebhook. An empty secret rejects every
	// delivery, so a misconfigured deployment fails closed.
	Secret string
}

// WebhookGuard returns a global middleware that checks the secret on
// requests to opts.Path and passes every other request through untouched.
//
// On mismatch it aborts with 401:
//
//	{ "request_id": "...", "code": "unauthorized", "message": "invalid webhook secret" }
func WebhookGuard(opts WebhookOptions) gin.HandlerFunc {
	secret := []byte(opts.Secret)
	return func(c *gin.Context) {
		if c.Request.URL.Path != opts.Path {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(HeaderWebhook))
		if len(secret) == 0 || subtle.ConstantTimeCompare(got, secret) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "invalid webhook secret",
			})
			return
		}
		c.Set(ctxKeyWebhook, true)
		c.Set(ctxKeyRateBypass, true)
		c.Next()
	}
}

// IsWebhook reports whether WebhookGuard authenticated this request.
func IsWebhook(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyWebhook)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
