package bot

import (
	"fmt"
	"html"
	"strconv"

	"github.com/tbourn/go-relay-bot/internal/domain"
	"github.com/tbourn/go-relay-bot/internal/gateway"
	"github.com/tbourn/go-relay-bot/internal/repo"
	"github.com/tbourn/go-relay-bot/internal/services"
)

// Ellipsis marks truncated message previews.
const Ellipsis = "..."

// Button labels.
const (
	LabelRules   = "📚 Правила"
	LabelPolicy  = "📜 Политика"
	LabelSpeak   = "💔 Высказаться"
	LabelBack    = "🔙 Назад"
	LabelYes     = "✅ Да"
	LabelCancel  = "❌ Отмена"
	LabelShare   = "📤 Поделиться"
	LabelOpen    = "📢 Открыть в канале"
	LabelWho     = "👤 Кто написал"
	dateLayout   = "02.01.2006 15:04"
	clickCaption = "ᴄʟɪᴄᴋ"
)

// Callback toasts.
const (
	ToastCancelled = "Отправка отменена."
	ToastExpired   = "Кнопка устарела."
	ToastForbidden = "Недоступно."
	ToastSlowDown  = "Слишком часто, подождите немного."
)

// Truncate shortens s to at most limit runes, appending Ellipsis when
// anything was cut. A non-positive limit disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + Ellipsis
}

// DefaultDisplayCap is the preview length used when no Renderer is supplied.
const DefaultDisplayCap = 30

// Renderer turns panels and records into text plus keyboard.
type Renderer struct {
	Panels     Panels
	Links      services.Links
	DisplayCap int
}

func htmlOpts(kb gateway.Keyboard) gateway.Options {
	return gateway.Options{HTML: true, DisablePreview: true, Keyboard: kb}
}

func backRow() []gateway.Button {
	return []gateway.Button{{Text: LabelBack, Action: ActBack}}
}

func confirmRow(yes, cancel string) []gateway.Button {
	return []gateway.Button{{Text: LabelYes, Action: yes}, {Text: LabelCancel, Action: cancel}}
}

// Panel renders a static or session-dependent screen.
func (r *Renderer) Panel(p Panel, s Session) (string, gateway.Options) {
	switch p {
	case PanelWelcome:
		return r.Panels.Welcome, htmlOpts(gateway.Keyboard{{
			{Text: LabelRules, Action: ActRules},
			{Text: LabelPolicy, Action: ActPolicy},
			{Text: LabelSpeak, Action: ActSpeak},
		}})
	case PanelRules:
		return r.Panels.Rules, htmlOpts(gateway.Keyboard{backRow()})
	case PanelPolicy:
		return r.Panels.Policy, htmlOpts(gateway.Keyboard{backRow()})
	case PanelSpeaking:
		return r.Panels.Speaking, htmlOpts(gateway.Keyboard{backRow()})
	case PanelConfirmDraft:
		return "Сообщение получено. Подтвердите отправку или отмените действие.",
			htmlOpts(gateway.Keyboard{confirmRow(ActYes, ActCancel)})
	case PanelPublishFailed:
		return "Произошла ошибка при отправке сообщения. Попробуйте ещё раз позже.",
			htmlOpts(gateway.Keyboard{confirmRow(ActYes, ActCancel)})
	case PanelDraftRejected:
		return "Сообщение пустое или слишком длинное. Отправьте другой текст.",
			htmlOpts(gateway.Keyboard{backRow()})
	case PanelPublishUnrecorded:
		return "Сообщение опубликовано в канале, но ссылка на него не сохранилась. Повторно отправлять не нужно.",
			htmlOpts(gateway.Keyboard{backRow()})
	case PanelNotFound:
		return "Сообщение недоступно.", htmlOpts(gateway.Keyboard{backRow()})
	case PanelBroadcastPrompt:
		return "📣 Отправьте текст рассылки.", htmlOpts(gateway.Keyboard{backRow()})
	case PanelBroadcastConfirm:
		return fmt.Sprintf("📣 Текст рассылки:\n\n%s\n\nОтправить всем пользователям?", html.EscapeString(s.Draft)),
			htmlOpts(gateway.Keyboard{confirmRow(ActBroadcastYes, ActBroadcastCancel)})
	case PanelBroadcastStarted:
		return "📣 Рассылка запущена. Отчёт придёт после последней партии.", htmlOpts(nil)
	case PanelForbidden:
		return "⛔ Команда доступна только операторам.", htmlOpts(nil)
	}
	return "", htmlOpts(nil)
}

// Published renders the success notice linking to the channel post.
func (r *Renderer) Published(postID int64) (string, gateway.Options) {
	return fmt.Sprintf("Успешно! ✅\n\nСсылка на сообщение: <a href=\"%s\">%s</a>.", r.Links.Post(postID), clickCaption),
		htmlOpts(nil)
}

// Message renders the detail view of a published message. shareLink is the
// (possibly shortened) deep-link; operators get the author button.
func (r *Renderer) Message(m *domain.Message, shareLink string, operator bool) (string, gateway.Options) {
	preview := Truncate(m.Body, r.DisplayCap)
	text := fmt.Sprintf("💬 <i>%s</i>\n\n📅 %s\n👥 Переходов: %d",
		html.EscapeString(preview), m.CreatedAt.Format(dateLayout), m.JoinCount)

	kb := gateway.Keyboard{
		{{Text: LabelShare, URL: services.Share(shareLink, preview)}},
		{{Text: LabelOpen, URL: r.Links.Post(m.ChannelPostID)}},
	}
	if operator {
		kb = append(kb, []gateway.Button{{Text: LabelWho, Action: ActionData(ActWho, m.Token)}})
	}
	kb = append(kb, backRow())
	return text, htmlOpts(kb)
}

// Author renders the operator-only author reveal.
func (r *Renderer) Author(u *domain.User) string {
	id := strconv.FormatInt(u.ExternalID, 10)
	return fmt.Sprintf("👤 Автор: <a href=\"%s\">%s</a>", services.UserRef(u.ExternalID), id)
}

// Stats renders the /stats reply.
func (r *Renderer) Stats(st repo.Stats) string {
	return fmt.Sprintf("📊 Статистика\n\nПользователей: %d\nСообщений: %d", st.Users, st.Messages)
}

// JoinNotice tells an author that their link brought a new user.
func (r *Renderer) JoinNotice(m *domain.Message) string {
	return fmt.Sprintf("🎉 По вашей ссылке пришёл новый пользователь!\n\n<i>%s</i>\n👥 Переходов: %d",
		html.EscapeString(Truncate(m.Body, r.DisplayCap)), m.JoinCount)
}
