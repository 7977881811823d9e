package bot

import (
	"errors"
	"strings"

	"github.com/tbourn/go-relay-bot/internal/services"
)

// CommandPrefix marks text that aborts capture instead of becoming a draft.
const CommandPrefix = "/"

// Transition computes the next session and the effects to execute. It has
// no I/O and is safe to call from tests without a gateway or store.
func Transition(s Session, ev Event) (Session, []Effect) {
	if s.Scene == "" {
		s.Scene = SceneStart
	}
	switch ev.Kind {
	case EventStart:
		return onStart(s, ev)
	case EventCommand:
		return onCommand(s, ev)
	case EventAction:
		return onAction(s, ev)
	case EventText:
		return onText(s, ev)
	case EventPublished:
		return onPublished(s, ev)
	}
	return s, nil
}

func onStart(s Session, ev Event) (Session, []Effect) {
	if ev.Payload == "" {
		return atStart(s), []Effect{{Kind: EffectRegister}, render(PanelWelcome)}
	}
	next := Session{Scene: SceneMsg, PendingToken: ev.Payload, LastRenderedID: s.LastRenderedID}
	return next, []Effect{
		{Kind: EffectJoin, Token: ev.Payload},
		{Kind: EffectShowMessage, Token: ev.Payload},
	}
}

func onCommand(s Session, ev Event) (Session, []Effect) {
	switch ev.Command {
	case "stats":
		return s, []Effect{{Kind: EffectStats}}
	case "broadcast":
		if !ev.Actor.Operator {
			return s, []Effect{reply(PanelForbidden)}
		}
		next := Session{Scene: SceneBroadcast, Step: StepPrompt, LastRenderedID: s.LastRenderedID}
		return next, []Effect{render(PanelBroadcastPrompt)}
	}
	return s, nil
}

func onAction(s Session, ev Event) (Session, []Effect) {
	ack := func(text string) Effect {
		return Effect{Kind: EffectAnswer, CallbackID: ev.CallbackID, Text: text}
	}

	switch ev.Action {
	case ActBack:
		return atStart(s), []Effect{ack(""), render(PanelWelcome)}

	case ActRules, ActPolicy:
		next := atStart(s)
		panel := PanelRules
		next.Step = StepRules
		if ev.Action == ActPolicy {
			panel, next.Step = PanelPolicy, StepPolicy
		}
		return next, []Effect{ack(""), render(panel)}

	case ActSpeak:
		next := Session{Scene: SceneSpeaking, Step: StepPrompt, LastRenderedID: s.LastRenderedID}
		return next, []Effect{ack(""), render(PanelSpeaking)}

	case ActYes:
		if s.Scene != SceneSpeaking || s.Step != StepConfirm || s.Draft == "" {
			return s, []Effect{ack(ToastExpired)}
		}
		return s, []Effect{ack(""), {Kind: EffectPublish, Text: s.Draft}}

	case ActCancel:
		return atStart(s), []Effect{ack(ToastCancelled), render(PanelWelcome)}

	case ActWho:
		if !ev.Actor.Operator {
			return s, []Effect{ack(ToastForbidden)}
		}
		return s, []Effect{ack(""), {Kind: EffectRevealAuthor, Token: ev.Arg}}

	case ActBroadcastYes:
		if !ev.Actor.Operator || s.Scene != SceneBroadcast || s.Step != StepConfirm || s.Draft == "" {
			return s, []Effect{ack(ToastExpired)}
		}
		return atStart(s), []Effect{
			ack(""),
			{Kind: EffectBroadcast, Text: s.Draft},
			notice(PanelBroadcastStarted),
			render(PanelWelcome),
		}

	case ActBroadcastCancel:
		return atStart(s), []Effect{ack(ToastCancelled), render(PanelWelcome)}
	}
	return s, []Effect{ack("")}
}

func onText(s Session, ev Event) (Session, []Effect) {
	switch s.Scene {
	case SceneSpeaking:
		if strings.HasPrefix(ev.Text, CommandPrefix) {
			return atStart(s), []Effect{render(PanelWelcome)}
		}
		next := s
		next.Step = StepConfirm
		next.Draft = ev.Text
		return next, []Effect{render(PanelConfirmDraft)}

	case SceneBroadcast:
		if !ev.Actor.Operator || strings.HasPrefix(ev.Text, CommandPrefix) {
			return atStart(s), []Effect{render(PanelWelcome)}
		}
		next := s
		next.Step = StepConfirm
		next.Draft = ev.Text
		return next, []Effect{render(PanelBroadcastConfirm)}
	}
	return s, nil
}

func onPublished(s Session, ev Event) (Session, []Effect) {
	if ev.Err != nil {
		next := s
		next.Scene = SceneSpeaking
		if errors.Is(ev.Err, services.ErrEmptyBody) || errors.Is(ev.Err, services.ErrBodyTooLong) {
			// Retrying cannot help; ask for a new text.
			next.Step = StepPrompt
			next.Draft = ""
			return next, []Effect{render(PanelDraftRejected)}
		}
		if errors.Is(ev.Err, services.ErrPublishUnrecorded) {
			// The post is live; offering Confirm again would duplicate it.
			next.Step = StepPrompt
			next.Draft = ""
			return next, []Effect{render(PanelPublishUnrecorded)}
		}
		next.Step = StepConfirm
		return next, []Effect{render(PanelPublishFailed)}
	}
	next := Session{Scene: SceneMsg, PendingToken: ev.Token, LastRenderedID: s.LastRenderedID}
	return next, []Effect{
		{Kind: EffectNotice, Panel: PanelPublished, PostID: ev.PostID},
		{Kind: EffectShowMessage},
	}
}
