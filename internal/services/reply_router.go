package services

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-relay-bot/internal/gateway"
	"github.com/tbourn/go-relay-bot/internal/repo"
)

// ReplyRouter forwards replies written under channel posts to the post's
// anonymous author.
type ReplyRouter struct {
	DB       *gorm.DB
	Gateway  gateway.Gateway
	Identity *IdentityService
	Links    Links
}

// Route inspects an inbound update. It reports handled=false when the update
// is not a reply to a known channel post, in which case the caller continues
// with normal scene handling.
func (r *ReplyRouter) Route(ctx context.Context, upd gateway.Update) (bool, error) {
	if upd.Kind != gateway.KindText || !upd.Channel || upd.ReplyTargetID == 0 {
		return false, nil
	}

	tr := otel.Tracer("services/ReplyRouter")
	ctx, span := tr.Start(ctx, "Route",
		trace.WithAttributes(attribute.Int64("message.channel_post_id", upd.ReplyTargetID)),
	)
	defer span.End()

	msg, err := repo.FindMessageByChannelPostID(ctx, r.DB, upd.ReplyTargetID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	author, err := r.Identity.FindByInternalID(ctx, msg.AuthorID)
	if err != nil {
		span.RecordError(err)
		return true, fmt.Errorf("reply router: author of %s: %w", msg.Token, err)
	}
	if author.ExternalID == upd.ExternalID {
		replyNotifications.WithLabelValues("self").Inc()
		return true, nil
	}

	text := fmt.Sprintf("💬 Новый ответ на ваше сообщение:\n\n<i>%s</i>\n\n<a href=\"%s\">ᴄʟɪᴄᴋ</a>",
		html.EscapeString(upd.Text), html.EscapeString(r.Links.Post(msg.ChannelPostID)))
	if _, err := r.Gateway.SendText(ctx, gateway.Chat(author.ExternalID), text, gateway.Options{HTML: true, DisablePreview: true}); err != nil {
		replyNotifications.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("token", msg.Token).Msg("reply router: notify author failed")
		return true, err
	}
	replyNotifications.WithLabelValues("sent").Inc()
	return true, nil
}
