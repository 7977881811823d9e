package bot

// Panel names a rendered screen.
type Panel int

const (
	PanelWelcome Panel = iota + 1
	PanelRules
	PanelPolicy
	PanelSpeaking
	PanelConfirmDraft
	PanelPublishFailed
	PanelDraftRejected
	PanelPublishUnrecorded
	PanelPublished
	PanelNotFound
	PanelBroadcastPrompt
	PanelBroadcastConfirm
	PanelBroadcastStarted
	PanelForbidden
)

// EffectKind classifies what the engine must do.
type EffectKind int

const (
	// EffectRender edits the tracked message in place, falling back to a
	// fresh send.
	EffectRender EffectKind = iota + 1
	// EffectNotice sends a fresh terminal confirmation and clears the
	// render anchor so it is never overwritten.
	EffectNotice
	// EffectReply sends a standalone message outside the render flow.
	EffectReply
	// EffectAnswer acknowledges a button press.
	EffectAnswer
	// EffectRegister provisions the actor's identity.
	EffectRegister
	// EffectJoin provisions the actor and credits Token on first contact.
	EffectJoin
	// EffectShowMessage consumes the pending token (Token as fallback) and
	// renders the message detail.
	EffectShowMessage
	// EffectPublish runs the publication pipeline on Text; its result comes
	// back as EventPublished.
	EffectPublish
	// EffectBroadcast starts a background broadcast of Text.
	EffectBroadcast
	// EffectRevealAuthor tells the operator who wrote Token.
	EffectRevealAuthor
	// EffectStats replies with aggregate counters.
	EffectStats
)

// Effect is one declarative instruction produced by Transition.
type Effect struct {
	Kind       EffectKind
	Panel      Panel
	Text       string
	Token      string
	PostID     int64
	CallbackID string
}

func render(p Panel) Effect { return Effect{Kind: EffectRender, Panel: p} }

func notice(p Panel) Effect { return Effect{Kind: EffectNotice, Panel: p} }

func reply(p Panel) Effect { return Effect{Kind: EffectReply, Panel: p} }
