// Package bot implements the per-chat conversation: a pure scene machine
// (Transition) that turns events into declarative effects, and an Engine
// that feeds it platform updates and executes the effects against the
// gateway and services.
package bot

// Scene is a named state of the conversation.
type Scene string

const (
	SceneStart     Scene = "start"
	SceneSpeaking  Scene = "speaking"
	SceneMsg       Scene = "msg"
	SceneBroadcast Scene = "broadcast"
)

// Step is the sub-state inside a scene.
type Step string

const (
	StepNone    Step = ""
	StepRules   Step = "rules"
	StepPolicy  Step = "policy"
	StepPrompt  Step = "prompt"
	StepConfirm Step = "confirm"
)

// Session is the ephemeral per-chat conversation state.
type Session struct {
	Scene Scene `json:"scene"`
	Step  Step  `json:"step,omitempty"`

	// Draft holds captured text between capture and confirm/cancel.
	Draft string `json:"draft,omitempty"`

	// PendingToken is resolved, then cleared, on entering SceneMsg.
	PendingToken string `json:"pending_token,omitempty"`

	// LastRenderedID is the bot message edited in place by the next render;
	// 0 forces a fresh send.
	LastRenderedID int `json:"last_rendered_id,omitempty"`
}

// NewSession returns the initial state for a chat.
func NewSession() Session { return Session{Scene: SceneStart} }

// atStart returns the start state, keeping only the render anchor.
func atStart(s Session) Session {
	return Session{Scene: SceneStart, LastRenderedID: s.LastRenderedID}
}
