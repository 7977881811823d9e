package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-relay-bot/internal/bot"
	"github.com/tbourn/go-relay-bot/internal/domain"
	"github.com/tbourn/go-relay-bot/internal/repo"
	"github.com/tbourn/go-relay-bot/internal/services"
)

// StatsService is the subset of services.StatsService used by the API.
type StatsService interface {
	Stats(ctx context.Context) (repo.Stats, error)
}

// MessageService resolves reference tokens to published messages.
type MessageService interface {
	Resolve(ctx context.Context, token string) (*domain.Message, error)
}

// Options carries the presentation settings shared with the bot.
type Options struct {
	Links      services.Links
	DisplayCap int // runes of body shown in previews
}

// Handlers aggregates the read-only API endpoints.
type Handlers struct {
	stats StatsService
	msgs  MessageService
	opts  Options
}

// New constructs a Handlers instance with the given services.
func New(stats StatsService, msgs MessageService, opts Options) *Handlers {
	return &Handlers{stats: stats, msgs: msgs, opts: opts}
}

// RootResponse is the liveness banner served at "/".
type RootResponse struct {
	Status string    `json:"status" example:"run"`
	Time   time.Time `json:"time"`
	Bot    string    `json:"bot" example:"@alone_speakbot"`
}

// MessageView is the public projection of a published message. The author
// is never part of it.
type MessageView struct {
	Token     string    `json:"token"`
	Preview   string    `json:"preview"`
	PostURL   string    `json:"post_url"`
	DeepLink  string    `json:"deep_link"`
	Joins     int       `json:"joins"`
	CreatedAt time.Time `json:"created_at"`
}

// Root godoc
// @ID          getRoot
// @Summary     Service banner
// @Description Reports that the relay is running and which bot it serves.
// @Tags        system
// @Produce     json
// @Success     200 {object} RootResponse
// @Router      / [get]
func (h *Handlers) Root(c *gin.Context) {
	ok(c, http.StatusOK, RootResponse{
		Status: "run",
		Time:   time.Now().UTC(),
		Bot:    "@" + h.opts.Links.BotUsername,
	})
}

// Stats godoc
// @ID          getStats
// @Summary     Relay counters
// @Description Returns user, message and join totals and the time of the latest publication.
// @Tags        stats
// @Produce     json
// @Success     200 {object} repo.Stats
// @Failure     500 {object} ErrorResponse
// @Router      /stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	st, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, st)
}

// GetMessage godoc
// @ID          getMessage
// @Summary     Resolve a reference token
// @Description Returns the preview, links and join count of the message the token names.
// @Description Supports conditional requests: the weak ETag changes with the join count.
// @Tags        messages
// @Produce     json
// @Param       token         path   string true  "Reference token"
// @Param       If-None-Match header string false "ETag from a previous response"
// @Success     200 {object} MessageView
// @Success     304 "Not Modified"
// @Failure     404 {object} ErrorResponse
// @Failure     500 {object} ErrorResponse
// @Router      /messages/{token} [get]
func (h *Handlers) GetMessage(c *gin.Context) {
	token := c.Param("token")
	m, err := h.msgs.Resolve(c.Request.Context(), token)
	if errors.Is(err, services.ErrNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeResolveFailed, err.Error())
		return
	}

	if notModified(c, fmt.Sprintf(`W/"msg:%s:%d"`, m.Token, m.JoinCount)) {
		return
	}

	ok(c, http.StatusOK, MessageView{
		Token:     m.Token,
		Preview:   bot.Truncate(m.Body, h.opts.DisplayCap),
		PostURL:   h.opts.Links.Post(m.ChannelPostID),
		DeepLink:  h.opts.Links.DeepLink(m.Token),
		Joins:     m.JoinCount,
		CreatedAt: m.CreatedAt,
	})
}
