package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-relay-bot/internal/gateway"
	"github.com/tbourn/go-relay-bot/internal/http/middleware"
	"github.com/tbourn/go-relay-bot/internal/repo"
)

// UpdateDecoder turns a webhook body into a normalized update. The boolean
// is false for updates the relay ignores.
type UpdateDecoder interface {
	Decode(body io.Reader) (gateway.Update, bool, error)
}

// UpdateSink accepts updates for asynchronous processing.
type UpdateSink interface {
	Enqueue(ctx context.Context, upd gateway.Update) error
}

// ReceiptStore remembers which deliveries were already accepted. Claim
// returns repo.ErrDuplicate for a delivery seen before.
type ReceiptStore interface {
	Claim(ctx context.Context, updateID int64) error
	Release(ctx context.Context, updateID int64) error
}

// Webhook receives platform update deliveries.
type Webhook struct {
	decoder  UpdateDecoder
	sink     UpdateSink
	receipts ReceiptStore
	timeout  time.Duration
}

// NewWebhook builds the webhook handler. receipts may be nil, in which case
// redeliveries are processed again. enqueueTimeout bounds how long a
// delivery waits for queue space before the platform is asked to retry.
func NewWebhook(dec UpdateDecoder, sink UpdateSink, receipts ReceiptStore, enqueueTimeout time.Duration) *Webhook {
	if enqueueTimeout <= 0 {
		enqueueTimeout = 5 * time.Second
	}
	return &Webhook{decoder: dec, sink: sink, receipts: receipts, timeout: enqueueTimeout}
}

// Receive godoc
// @ID          postWebhook
// @Summary     Platform webhook
// @Description Accepts one update delivery. Deliveries already accepted are acknowledged without processing.
// @Description A 503 makes the platform redeliver later.
// @Tags        webhook
// @Accept      json
// @Param       X-Telegram-Bot-Api-Secret-Token header string true "Webhook secret"
// @Success     204 "Accepted"
// @Failure     400 {object} ErrorResponse
// @Failure     401 {object} ErrorResponse
// @Failure     503 {object} ErrorResponse
// @Router      /telegram/webhook [post]
func (w *Webhook) Receive(c *gin.Context) {
	if !middleware.IsWebhook(c) {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid webhook secret")
		return
	}
	lg := middleware.LoggerFrom(c)

	upd, handled, err := w.decoder.Decode(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid update payload")
		return
	}
	if !handled {
		noContent(c)
		return
	}

	ctx := c.Request.Context()
	if w.receipts != nil {
		if err := w.receipts.Claim(ctx, upd.ID); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				lg.Debug().Int64("update_id", upd.ID).Msg("redelivery dropped")
				noContent(c)
				return
			}
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "receipt store unavailable")
			return
		}
	}

	qctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.sink.Enqueue(qctx, upd); err != nil {
		if w.receipts != nil {
			if rerr := w.receipts.Release(context.WithoutCancel(ctx), upd.ID); rerr != nil {
				lg.Warn().Err(rerr).Int64("update_id", upd.ID).Msg("receipt release failed")
			}
		}
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "update queue full")
		return
	}
	noContent(c)
}
