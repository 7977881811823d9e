package bot

import (
	"strings"

	"github.com/tbourn/go-relay-bot/internal/gateway"
)

// Callback action ids carried by inline buttons.
const (
	ActRules           = "rules"
	ActPolicy          = "policy"
	ActSpeak           = "speak"
	ActBack            = "back"
	ActYes             = "yes"
	ActCancel          = "cancel"
	ActWho             = "who"
	ActBroadcastYes    = "bc_yes"
	ActBroadcastCancel = "bc_cancel"
)

// EventKind classifies machine inputs.
type EventKind int

const (
	EventStart EventKind = iota + 1
	EventText
	EventAction
	EventCommand
	// EventPublished reports the outcome of an EffectPublish.
	EventPublished
)

// Actor identifies who caused an event.
type Actor struct {
	ChatID     int64
	ExternalID int64
	Operator   bool
}

// Event is one input to Transition.
type Event struct {
	Kind  EventKind
	Actor Actor

	Payload string // EventStart

	Text string // EventText

	Action     string // EventAction
	Arg        string
	CallbackID string

	Command string // EventCommand

	Token  string // EventPublished
	PostID int64
	Err    error
}

// ActionData encodes an action id and optional argument as callback data.
func ActionData(action, arg string) string {
	if arg == "" {
		return action
	}
	return action + ":" + arg
}

// parseAction splits callback data produced by ActionData.
func parseAction(data string) (string, string) {
	action, arg, _ := strings.Cut(data, ":")
	return action, arg
}

// eventFrom converts a gateway update into a machine event.
func eventFrom(upd gateway.Update, operator bool) (Event, bool) {
	ev := Event{Actor: Actor{ChatID: upd.ChatID, ExternalID: upd.ExternalID, Operator: operator}}
	switch upd.Kind {
	case gateway.KindStart:
		ev.Kind = EventStart
		ev.Payload = upd.Payload
	case gateway.KindText:
		ev.Kind = EventText
		ev.Text = upd.Text
	case gateway.KindCallback:
		ev.Kind = EventAction
		ev.Action, ev.Arg = parseAction(upd.Action)
		ev.CallbackID = upd.CallbackID
	case gateway.KindAdmin:
		ev.Kind = EventCommand
		ev.Command = upd.Command
	default:
		return Event{}, false
	}
	return ev, true
}
