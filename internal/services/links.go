package services

import (
	"fmt"
	"net/url"
	"strings"
)

// Links builds the public URLs the relay hands out: bot deep-links, channel
// post links, share intents and operator profile references.
type Links struct {
	BotUsername string // without '@'
	Channel     string // without '@'
}

// Bot returns the bare bot link, used as the byline placeholder before a
// token exists.
func (l Links) Bot() string {
	return "https://t.me/" + strings.TrimPrefix(l.BotUsername, "@")
}

// DeepLink returns the start link that carries token as payload.
func (l Links) DeepLink(token string) string {
	return l.Bot() + "?start=" + url.QueryEscape(token)
}

// Post returns the public link to a channel post.
func (l Links) Post(postID int64) string {
	return fmt.Sprintf("https://t.me/%s/%d", strings.TrimPrefix(l.Channel, "@"), postID)
}

// Share returns the platform share intent for link with preview text.
func Share(link, text string) string {
	return "https://t.me/share/url?url=" + url.QueryEscape(link) + "&text=" + url.QueryEscape(text)
}

// UserRef returns a clickable profile reference for an external identity.
func UserRef(externalID int64) string {
	return fmt.Sprintf("tg://user?id=%d", externalID)
}
