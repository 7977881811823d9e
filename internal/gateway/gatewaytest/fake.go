// Package gatewaytest provides an in-memory Gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tbourn/go-relay-bot/internal/gateway"
)

// Sent records one SendText or EditText call.
type Sent struct {
	To        gateway.ChatRef
	MessageID int
	Text      string
	Opts      gateway.Options
	Edit      bool
}

// Ack records one AcknowledgeCallback call.
type Ack struct {
	CallbackID string
	Text       string
}

// Fake is a thread-safe recording Gateway. Message ids are assigned
// sequentially from 100. Hooks, when set, can fail individual calls.
type Fake struct {
	mu     sync.Mutex
	nextID int
	sent   []Sent
	acks   []Ack

	FailSend func(to gateway.ChatRef, text string) error
	FailEdit func(to gateway.ChatRef, messageID int) error
}

var _ gateway.Gateway = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake { return &Fake{nextID: 100} }

func (f *Fake) SendText(ctx context.Context, to gateway.ChatRef, text string, opts gateway.Options) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSend != nil {
		if err := f.FailSend(to, text); err != nil {
			return 0, fmt.Errorf("%w: %v", gateway.ErrSendFailed, err)
		}
	}
	f.nextID++
	f.sent = append(f.sent, Sent{To: to, MessageID: f.nextID, Text: text, Opts: opts})
	return f.nextID, nil
}

func (f *Fake) EditText(ctx context.Context, to gateway.ChatRef, messageID int, text string, opts gateway.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailEdit != nil {
		if err := f.FailEdit(to, messageID); err != nil {
			return fmt.Errorf("%w: %v", gateway.ErrSendFailed, err)
		}
	}
	f.sent = append(f.sent, Sent{To: to, MessageID: messageID, Text: text, Opts: opts, Edit: true})
	return nil
}

func (f *Fake) AcknowledgeCallback(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, Ack{CallbackID: callbackID, Text: text})
	return nil
}

// Sent returns a copy of every recorded send and edit, in call order.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sent, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentTo filters Sent by destination.
func (f *Fake) SentTo(to gateway.ChatRef) []Sent {
	var out []Sent
	for _, s := range f.Sent() {
		if s.To == to {
			out = append(out, s)
		}
	}
	return out
}

// Last returns the most recent call, or false when nothing was sent.
func (f *Fake) Last() (Sent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return Sent{}, false
	}
	return f.sent[len(f.sent)-1], true
}

// Acks returns the recorded callback acknowledgements.
func (f *Fake) Acks() []Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Ack, len(f.acks))
	copy(out, f.acks)
	return out
}

// Reset clears all recordings.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.acks = nil
}
