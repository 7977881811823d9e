package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Telegram implements Gateway on the Telegram Bot API and converts raw
// platform updates into Update values.
type Telegram struct {
	api          *tgbotapi.BotAPI
	channel      string
	discussionID int64
}

// TelegramOptions configures the adapter.
type TelegramOptions struct {
	Token        string
	Endpoint     string // optional, defaults to tgbotapi.APIEndpoint
	HTTPClient   *http.Client
	Channel      string // target channel username, without '@'
	DiscussionID int64  // linked discussion group, 0 when none
}

// DialTelegram authenticates against the Bot API (getMe) and returns a ready
// adapter.
func DialTelegram(opts TelegramOptions) (*Telegram, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	_ = tgbotapi.SetLogger(botLogger{})

	api, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return NewTelegram(api, opts.Channel, opts.DiscussionID), nil
}

// NewTelegram wraps an existing client.
func NewTelegram(api *tgbotapi.BotAPI, channel string, discussionID int64) *Telegram {
	return &Telegram{
		api:          api,
		channel:      strings.TrimPrefix(channel, "@"),
		discussionID: discussionID,
	}
}

// Self returns the bot's own id, username and first name.
func (t *Telegram) Self() (int64, string, string) {
	return t.api.Self.ID, t.api.Self.UserName, t.api.Self.FirstName
}

// SendText implements Gateway.
func (t *Telegram) SendText(ctx context.Context, to ChatRef, text string, opts Options) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var msg tgbotapi.MessageConfig
	if to.Username != "" {
		msg = tgbotapi.NewMessageToChannel("@"+to.Username, text)
	} else {
		msg = tgbotapi.NewMessage(to.ID, text)
	}
	if opts.HTML {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	msg.DisableWebPagePreview = opts.DisablePreview
	if kb := inlineMarkup(opts.Keyboard); kb != nil {
		msg.ReplyMarkup = *kb
	}

	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("%w: send to %s: %v", ErrSendFailed, to, err)
	}
	return sent.MessageID, nil
}

// EditText implements Gateway. Editing a message into identical content is
// treated as success.
func (t *Telegram) EditText(ctx context.Context, to ChatRef, messageID int, text string, opts Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.EditMessageTextConfig{
		BaseEdit: tgbotapi.BaseEdit{
			ChatID:          to.ID,
			ChannelUsername: channelName(to),
			MessageID:       messageID,
			ReplyMarkup:     inlineMarkup(opts.Keyboard),
		},
		Text:                  text,
		DisableWebPagePreview: opts.DisablePreview,
	}
	if opts.HTML {
		edit.ParseMode = tgbotapi.ModeHTML
	}

	if _, err := t.api.Request(edit); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
		return fmt.Errorf("%w: edit %d in %s: %v", ErrSendFailed, messageID, to, err)
	}
	return nil
}

// AcknowledgeCallback implements Gateway.
func (t *Telegram) AcknowledgeCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("%w: answer callback: %v", ErrSendFailed, err)
	}
	return nil
}

// Poll long-polls getUpdates and forwards converted updates until ctx is
// cancelled. The returned channel is closed on exit.
func (t *Telegram) Poll(ctx context.Context, timeoutSeconds int) <-chan Update {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = timeoutSeconds
	raw := t.api.GetUpdatesChan(cfg)

	out := make(chan Update)
	go func() {
		defer close(out)
		defer t.api.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-raw:
				if !ok {
					return
				}
				upd, ok := t.Convert(u)
				if !ok {
					continue
				}
				select {
				case out <- upd:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Decode parses a webhook request body. The boolean is false for updates the
// relay does not handle.
func (t *Telegram) Decode(body io.Reader) (Update, bool, error) {
	var u tgbotapi.Update
	if err := json.NewDecoder(body).Decode(&u); err != nil {
		return Update{}, false, err
	}
	upd, ok := t.Convert(u)
	return upd, ok, nil
}

// Convert maps a raw platform update onto Update.
func (t *Telegram) Convert(u tgbotapi.Update) (Update, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.From == nil {
			return Update{}, false
		}
		out := Update{
			ID:         int64(u.UpdateID),
			Kind:       KindCallback,
			ChatID:     cq.From.ID,
			ExternalID: cq.From.ID,
			Private:    true,
			CallbackID: cq.ID,
			Action:     cq.Data,
		}
		if cq.Message != nil && cq.Message.Chat != nil {
			out.ChatID = cq.Message.Chat.ID
			out.Private = cq.Message.Chat.IsPrivate()
		}
		return out, true
	}

	msg := u.Message
	if msg == nil {
		msg = u.ChannelPost
	}
	if msg == nil || msg.Chat == nil {
		return Update{}, false
	}

	out := Update{
		ID:      int64(u.UpdateID),
		ChatID:  msg.Chat.ID,
		Private: msg.Chat.IsPrivate(),
		Channel: t.inChannelScope(msg.Chat),
	}
	switch {
	case msg.From != nil:
		out.ExternalID = msg.From.ID
	case msg.SenderChat != nil:
		out.ExternalID = msg.SenderChat.ID
	}

	if msg.IsCommand() {
		cmd := strings.ToLower(msg.Command())
		if cmd == "start" {
			out.Kind = KindStart
			out.Payload = strings.TrimSpace(msg.CommandArguments())
			return out, true
		}
		if _, ok := AdminCommands[cmd]; ok {
			out.Kind = KindAdmin
			out.Command = cmd
			return out, true
		}
	}

	if msg.Text == "" {
		return Update{}, false
	}
	out.Kind = KindText
	out.Text = msg.Text
	if out.Channel {
		out.ReplyTargetID = t.replyTarget(msg)
	}
	return out, true
}

func (t *Telegram) inChannelScope(c *tgbotapi.Chat) bool {
	if t.discussionID != 0 && c.ID == t.discussionID {
		return true
	}
	return t.channel != "" && strings.EqualFold(c.UserName, t.channel)
}

// replyTarget resolves the channel post a message answers. In the discussion
// group, channel posts appear as automatic forwards carrying the original
// post id; in the channel itself the replied message id is the post id.
func (t *Telegram) replyTarget(msg *tgbotapi.Message) int64 {
	parent := msg.ReplyToMessage
	if parent == nil {
		return 0
	}
	if parent.ForwardFromChat != nil && parent.ForwardFromMessageID != 0 {
		if t.channel == "" || strings.EqualFold(parent.ForwardFromChat.UserName, t.channel) {
			return int64(parent.ForwardFromMessageID)
		}
		return 0
	}
	if parent.Chat != nil && t.channel != "" && strings.EqualFold(parent.Chat.UserName, t.channel) {
		return int64(parent.MessageID)
	}
	return 0
}

func channelName(to ChatRef) string {
	if to.Username == "" {
		return ""
	}
	return "@" + to.Username
}

func inlineMarkup(kb Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, r := range kb {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			if b.URL != "" {
				row = append(row, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Action))
			}
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}
	m := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &m
}

// botLogger routes the client library's own diagnostics into zerolog.
type botLogger struct{}

func (botLogger) Println(v ...interface{}) {
	log.Debug().Str("component", "telegram").Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (botLogger) Printf(format string, v ...interface{}) {
	log.Debug().Str("component", "telegram").Msgf(format, v...)
}
