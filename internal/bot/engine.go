package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-relay-bot/internal/domain"
	"github.com/tbourn/go-relay-bot/internal/gateway"
	"github.com/tbourn/go-relay-bot/internal/repo"
	"github.com/tbourn/go-relay-bot/internal/services"
)

// Identities is the identity registry as used by the engine.
type Identities interface {
	GetOrCreate(ctx context.Context, externalID int64) (*domain.User, bool, error)
	FindByInternalID(ctx context.Context, id string) (*domain.User, error)
}

// Messages resolves tokens and records deep-link joins.
type Messages interface {
	Resolve(ctx context.Context, token string) (*domain.Message, error)
	RecordJoin(ctx context.Context, token string) error
}

// Publisher runs the publication pipeline.
type Publisher interface {
	Publish(ctx context.Context, authorExternalID int64, body string) (*domain.Message, error)
}

// ReplyRouter intercepts channel replies before scene handling.
type ReplyRouter interface {
	Route(ctx context.Context, upd gateway.Update) (bool, error)
}

// Broadcaster starts background announcements.
type Broadcaster interface {
	Dispatch(ctx context.Context, operatorID int64, text string) *services.BroadcastJob
}

// StatsReader serves /stats.
type StatsReader interface {
	Stats(ctx context.Context) (repo.Stats, error)
}

// Shortener shortens share links.
type Shortener interface {
	Shorten(ctx context.Context, long string) (string, error)
}

// Deps are the collaborators the engine drives. Router, Broadcaster and
// Shortener are optional.
type Deps struct {
	Gateway     gateway.Gateway
	Sessions    SessionStore
	Identities  Identities
	Messages    Messages
	Publisher   Publisher
	Router      ReplyRouter
	Broadcaster Broadcaster
	Stats       StatsReader
	Shortener   Shortener
	Operators   OperatorPolicy
	Renderer    *Renderer
}

// Options tune update handling.
type Options struct {
	// Timeout bounds all external calls made for one update.
	Timeout time.Duration
	// ChatRPS/ChatBurst rate-limit each chat; ChatRPS <= 0 disables it.
	ChatRPS   float64
	ChatBurst int
}

// Engine is the application context: it turns updates into machine events,
// executes the resulting effects and persists the session.
type Engine struct {
	Deps
	timeout time.Duration
	locks   *chatLocks
	limits  *chatLimiter
}

// NewEngine wires an engine. Operators defaults to an empty allow-list.
func NewEngine(d Deps, o Options) *Engine {
	if d.Operators == nil {
		d.Operators = NewOperatorSet()
	}
	if d.Sessions == nil {
		d.Sessions = NewMemoryStore()
	}
	if d.Renderer == nil {
		d.Renderer = &Renderer{Panels: DefaultPanels, DisplayCap: DefaultDisplayCap}
		if p, ok := d.Publisher.(*services.PublishService); ok {
			d.Renderer.Links = p.Links
		}
	}
	return &Engine{
		Deps:    d,
		timeout: o.Timeout,
		locks:   newChatLocks(),
		limits:  newChatLimiter(o.ChatRPS, o.ChatBurst),
	}
}

// Serve handles updates from ch with at most workers concurrent handlers
// until ch closes or ctx is cancelled. In-flight handlers are awaited.
func (e *Engine) Serve(ctx context.Context, ch <-chan gateway.Update, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-ch:
			if !ok {
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				if err := e.Handle(ctx, upd); err != nil {
					log.Error().Err(err).Int64("chat_id", upd.ChatID).Str("kind", upd.Kind.String()).Msg("update failed")
				}
			}()
		}
	}
}

// Handle processes one update. Panics are recovered and reported as errors
// so one bad update never takes the process down.
func (e *Engine) Handle(ctx context.Context, upd gateway.Update) (err error) {
	start := time.Now()
	kind := upd.Kind.String()
	ctx, span := otel.Tracer("bot/Engine").Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.String("update.kind", kind),
			attribute.Int64("update.id", upd.ID),
			attribute.Int64("chat.id", upd.ChatID),
		),
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling update: %v", r)
			log.Error().Ctx(ctx).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Int64("chat_id", upd.ChatID).
				Msg("recovered from panic")
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		updatesTotal.WithLabelValues(kind, outcome).Inc()
		updateDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if upd.Kind == gateway.KindText && upd.Channel && e.Router != nil {
		handled, rerr := e.Router.Route(ctx, upd)
		if handled || rerr != nil {
			return rerr
		}
	}
	if !upd.Private {
		return nil
	}

	if !e.limits.allow(upd.ChatID) {
		if upd.Kind == gateway.KindCallback {
			_ = e.Gateway.AcknowledgeCallback(ctx, upd.CallbackID, ToastSlowDown)
		}
		log.Debug().Ctx(ctx).Int64("chat_id", upd.ChatID).Msg("update dropped by chat rate limit")
		return nil
	}

	ev, ok := eventFrom(upd, e.Operators.IsOperator(upd.ExternalID))
	if !ok {
		return nil
	}

	unlock := e.locks.lock(upd.ChatID)
	defer unlock()

	sess, err := e.Sessions.Load(ctx, upd.ChatID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	from := sess.Scene
	next, effects := Transition(sess, ev)
	next, runErr := e.apply(ctx, ev.Actor, next, effects)
	if next.Scene != from {
		sceneTransitions.WithLabelValues(string(from), string(next.Scene)).Inc()
	}
	log.Debug().Ctx(ctx).
		Int64("chat_id", upd.ChatID).
		Str("event", kind).
		Str("scene", string(next.Scene)).
		Str("step", string(next.Step)).
		Msg("update handled")

	if err := e.Sessions.Save(ctx, upd.ChatID, next); err != nil {
		return errors.Join(runErr, fmt.Errorf("save session: %w", err))
	}
	return runErr
}

// apply executes effects in order. A failing effect is logged and does not
// stop the ones after it.
func (e *Engine) apply(ctx context.Context, actor Actor, s Session, effects []Effect) (Session, error) {
	var errs []error
	for _, fx := range effects {
		var err error
		s, err = e.run(ctx, actor, s, fx)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return s, errors.Join(errs...)
}

func (e *Engine) run(ctx context.Context, actor Actor, s Session, fx Effect) (Session, error) {
	switch fx.Kind {
	case EffectRender:
		text, opts := e.Renderer.Panel(fx.Panel, s)
		id, err := e.show(ctx, actor.ChatID, s.LastRenderedID, text, opts)
		s.LastRenderedID = id
		return s, err

	case EffectNotice:
		text, opts := e.Renderer.Panel(fx.Panel, s)
		if fx.Panel == PanelPublished {
			text, opts = e.Renderer.Published(fx.PostID)
		}
		_, err := e.Gateway.SendText(ctx, gateway.Chat(actor.ChatID), text, opts)
		s.LastRenderedID = 0
		return s, err

	case EffectReply:
		text, opts := e.Renderer.Panel(fx.Panel, s)
		_, err := e.Gateway.SendText(ctx, gateway.Chat(actor.ChatID), text, opts)
		return s, err

	case EffectAnswer:
		if fx.CallbackID == "" {
			return s, nil
		}
		return s, e.Gateway.AcknowledgeCallback(ctx, fx.CallbackID, fx.Text)

	case EffectRegister:
		_, _, err := e.Identities.GetOrCreate(ctx, actor.ExternalID)
		return s, err

	case EffectJoin:
		return s, e.join(ctx, actor, fx.Token)

	case EffectShowMessage:
		token := s.PendingToken
		if token == "" {
			token = fx.Token
		}
		s.PendingToken = ""
		text, opts, err := e.messageView(ctx, actor, token)
		if err != nil {
			return s, err
		}
		id, err := e.show(ctx, actor.ChatID, s.LastRenderedID, text, opts)
		s.LastRenderedID = id
		return s, err

	case EffectPublish:
		msg, perr := e.Publisher.Publish(ctx, actor.ExternalID, fx.Text)
		ev := Event{Kind: EventPublished, Actor: actor, Err: perr}
		if perr != nil {
			log.Warn().Ctx(ctx).Err(perr).Int64("chat_id", actor.ChatID).Msg("publish failed")
		} else {
			ev.Token, ev.PostID = msg.Token, msg.ChannelPostID
			log.Info().Ctx(ctx).Str("token", msg.Token).Int64("post_id", msg.ChannelPostID).Msg("message published")
		}
		next, more := Transition(s, ev)
		return e.apply(ctx, actor, next, more)

	case EffectBroadcast:
		if e.Broadcaster == nil {
			return s, errors.New("broadcast: no dispatcher configured")
		}
		e.Broadcaster.Dispatch(ctx, actor.ExternalID, fx.Text)
		log.Info().Ctx(ctx).Int64("operator", actor.ExternalID).Msg("broadcast dispatched")
		return s, nil

	case EffectRevealAuthor:
		return s, e.revealAuthor(ctx, actor, fx.Token)

	case EffectStats:
		st, err := e.Stats.Stats(ctx)
		if err != nil {
			return s, fmt.Errorf("stats: %w", err)
		}
		_, err = e.Gateway.SendText(ctx, gateway.Chat(actor.ChatID), e.Renderer.Stats(st), gateway.Options{HTML: true})
		return s, err
	}
	return s, fmt.Errorf("unknown effect %d", fx.Kind)
}

// show edits the tracked message in place, or sends a fresh one when there
// is none or the edit is rejected. It returns the id to track next.
func (e *Engine) show(ctx context.Context, chatID int64, last int, text string, opts gateway.Options) (int, error) {
	chat := gateway.Chat(chatID)
	if last != 0 {
		err := e.Gateway.EditText(ctx, chat, last, text, opts)
		if err == nil {
			return last, nil
		}
		log.Debug().Err(err).Int64("chat_id", chatID).Int("message_id", last).Msg("edit failed, sending fresh")
	}
	id, err := e.Gateway.SendText(ctx, chat, text, opts)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// join provisions the actor and, only when this is their first contact,
// credits the message and tells its author.
func (e *Engine) join(ctx context.Context, actor Actor, token string) error {
	_, created, err := e.Identities.GetOrCreate(ctx, actor.ExternalID)
	if err != nil || !created {
		return err
	}
	if err := e.Messages.RecordJoin(ctx, token); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("record join: %w", err)
	}
	joinsTotal.Inc()

	msg, err := e.Messages.Resolve(ctx, token)
	if err != nil {
		return fmt.Errorf("join notice: %w", err)
	}
	author, err := e.Identities.FindByInternalID(ctx, msg.AuthorID)
	if err != nil {
		return fmt.Errorf("join notice: %w", err)
	}
	_, err = e.Gateway.SendText(ctx, gateway.Chat(author.ExternalID), e.Renderer.JoinNotice(msg), gateway.Options{HTML: true})
	return err
}

func (e *Engine) messageView(ctx context.Context, actor Actor, token string) (string, gateway.Options, error) {
	msg, err := e.Messages.Resolve(ctx, token)
	if errors.Is(err, services.ErrNotFound) {
		text, opts := e.Renderer.Panel(PanelNotFound, Session{})
		return text, opts, nil
	}
	if err != nil {
		return "", gateway.Options{}, fmt.Errorf("resolve %s: %w", token, err)
	}

	link := e.Renderer.Links.DeepLink(msg.Token)
	if e.Shortener != nil {
		if short, err := e.Shortener.Shorten(ctx, link); err == nil {
			link = short
		} else {
			log.Debug().Err(err).Msg("shortener unavailable, using deep-link")
		}
	}
	text, opts := e.Renderer.Message(msg, link, actor.Operator)
	return text, opts, nil
}

func (e *Engine) revealAuthor(ctx context.Context, actor Actor, token string) error {
	if !e.Operators.IsOperator(actor.ExternalID) {
		return nil
	}
	msg, err := e.Messages.Resolve(ctx, token)
	if errors.Is(err, services.ErrNotFound) {
		text, opts := e.Renderer.Panel(PanelNotFound, Session{})
		_, err = e.Gateway.SendText(ctx, gateway.Chat(actor.ChatID), text, opts)
		return err
	}
	if err != nil {
		return err
	}
	author, err := e.Identities.FindByInternalID(ctx, msg.AuthorID)
	if err != nil {
		return fmt.Errorf("reveal author: %w", err)
	}
	_, err = e.Gateway.SendText(ctx, gateway.Chat(actor.ChatID), e.Renderer.Author(author), gateway.Options{HTML: true})
	return err
}
