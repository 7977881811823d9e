// Package services – PublishService
//
// PublishService owns the publication pipeline: it provisions the author,
// posts the body to the channel, and only after the platform confirms the
// send mints a token and persists the Message. A final best-effort edit
// rewrites the byline so it deep-links to the new message.

package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-relay-bot/internal/domain"
	"github.com/tbourn/go-relay-bot/internal/gateway"
	"github.com/tbourn/go-relay-bot/internal/repo"
)

// PublishService posts user drafts to the channel.
type PublishService struct {
	DB       *gorm.DB
	Gateway  gateway.Gateway
	Identity *IdentityService
	Tokens   *TokenService
	Links    Links

	// BotName is the byline's display name.
	BotName string
	// MaxBodyRunes rejects longer drafts; 0 disables the check.
	MaxBodyRunes int
}

// Publish runs the pipeline for one draft and returns the persisted message.
// Any failure before persistence is reported as ErrPublishFailed (input
// validation errors are returned as-is).
func (s *PublishService) Publish(ctx context.Context, authorExternalID int64, body string) (*domain.Message, error) {
	tr := otel.Tracer("services/PublishService")
	ctx, span := tr.Start(ctx, "Publish",
		trace.WithAttributes(attribute.Int64("user.external_id", authorExternalID)),
	)
	defer span.End()

	body = norm.NFC.String(strings.TrimSpace(body))
	if body == "" {
		return nil, ErrEmptyBody
	}
	if s.MaxBodyRunes > 0 && utf8.RuneCountInString(body) > s.MaxBodyRunes {
		return nil, ErrBodyTooLong
	}

	fail := func(step string, err error) (*domain.Message, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, step)
		publishTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrPublishFailed, step, err)
	}

	author, _, err := s.Identity.GetOrCreate(ctx, authorExternalID)
	if err != nil {
		return fail("author", err)
	}

	channel := gateway.Channel(s.Links.Channel)
	opts := gateway.Options{HTML: true, DisablePreview: true}

	postID, err := s.Gateway.SendText(ctx, channel, s.compose(body, s.Links.Bot()), opts)
	if err != nil {
		return fail("send", err)
	}
	span.SetAttributes(attribute.Int("message.channel_post_id", postID))

	token := s.Tokens.Mint()
	msg, err := repo.CreateMessage(ctx, s.DB, token, int64(postID), author.InternalID, body)
	if err != nil {
		// The post is live but unrecorded; surface it so an operator can
		// remove it by hand.
		log.Error().Ctx(ctx).Err(err).Int("post_id", postID).Msg("publish: channel post sent but not persisted")
		return fail("persist", fmt.Errorf("%w: %w", ErrPublishUnrecorded, err))
	}

	if err := s.Gateway.EditText(ctx, channel, postID, s.compose(body, s.Links.DeepLink(token)), opts); err != nil {
		log.Warn().Ctx(ctx).Err(err).Int("post_id", postID).Str("token", token).Msg("publish: byline rewrite failed")
	}

	publishTotal.WithLabelValues("ok").Inc()
	return msg, nil
}

// compose renders the channel post: the escaped body followed by the byline
// linking to the bot.
func (s *PublishService) compose(body, link string) string {
	name := s.BotName
	if name == "" {
		name = s.Links.BotUsername
	}
	return fmt.Sprintf("%s\n\n🥀 • <a href=\"%s\">%s</a>",
		html.EscapeString(body), html.EscapeString(link), html.EscapeString(name))
}
