// Package gateway defines the messaging transport contract consumed by the
// relay: outbound send/edit/acknowledge operations and the normalized inbound
// update shape. The Telegram adapter in this package is the production
// implementation; tests use gatewaytest.Fake.
package gateway

import (
	"context"
	"errors"
	"strconv"
)

// ErrSendFailed marks a send or edit the platform rejected.
var ErrSendFailed = errors.New("gateway send failed")

// ChatRef addresses a chat either by numeric id or, for public channels,
// by username (without '@').
type ChatRef struct {
	ID       int64
	Username string
}

// Chat addresses a private chat or group by id.
func Chat(id int64) ChatRef { return ChatRef{ID: id} }

// Channel addresses a public channel by username.
func Channel(username string) ChatRef { return ChatRef{Username: username} }

// String renders the reference for logs.
func (c ChatRef) String() string {
	if c.Username != "" {
		return "@" + c.Username
	}
	return strconv.FormatInt(c.ID, 10)
}

// Button is an inline keyboard button. Exactly one of Action (callback
// data) or URL is set.
type Button struct {
	Text   string
	Action string
	URL    string
}

// Keyboard is a list of button rows.
type Keyboard [][]Button

// Options tune how a text is rendered.
type Options struct {
	HTML           bool
	DisablePreview bool
	Keyboard       Keyboard
}

// Gateway is the outbound side of the messaging platform.
type Gateway interface {
	// SendText posts a new message and returns its platform id.
	SendText(ctx context.Context, to ChatRef, text string, opts Options) (int, error)
	// EditText replaces the text (and keyboard) of an existing message.
	EditText(ctx context.Context, to ChatRef, messageID int, text string, opts Options) error
	// AcknowledgeCallback stops the client-side spinner of a button press,
	// optionally showing a short toast.
	AcknowledgeCallback(ctx context.Context, callbackID, text string) error
}

// Kind classifies inbound updates.
type Kind int

const (
	KindUnknown Kind = iota
	// KindStart is /start with an optional deep-link payload.
	KindStart
	// KindText is any other text, including unknown /commands.
	KindText
	// KindCallback is an inline button press.
	KindCallback
	// KindAdmin is one of the admin surface commands (/stats, /broadcast).
	KindAdmin
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindText:
		return "text"
	case KindCallback:
		return "callback"
	case KindAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Update is a normalized inbound event.
type Update struct {
	// ID is the platform's delivery id, used to drop webhook redeliveries.
	ID         int64
	Kind       Kind
	ChatID     int64
	ExternalID int64 // sender identity
	Private    bool  // one-to-one chat with the bot
	Channel    bool  // posted in the target channel or its discussion group

	// KindStart
	Payload string

	// KindText
	Text          string
	ReplyTargetID int64 // channel post id this text replies to, 0 when none

	// KindCallback
	CallbackID string
	Action     string

	// KindAdmin
	Command string
}

// AdminCommands lists the commands surfaced as KindAdmin.
var AdminCommands = map[string]struct{}{
	"stats":     {},
	"broadcast": {},
}
