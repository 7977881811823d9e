package bot

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Panels holds the operator-editable static texts. They are HTML and sent
// as-is.
type Panels struct {
	Welcome  string
	Rules    string
	Policy   string
	Speaking string
}

// DefaultPanels is used for any file missing from the texts directory.
var DefaultPanels = Panels{
	Welcome:  "🥀 <b>Анонимный канал</b>\n\nЗдесь можно высказаться анонимно. Сообщение будет опубликовано в канале без вашего имени.",
	Rules:    "📚 <b>Правила</b>\n\nБез оскорблений, рекламы и личных данных третьих лиц.",
	Policy:   "📜 <b>Политика</b>\n\nМы храним только текст сообщения и внутренний идентификатор автора.",
	Speaking: "💔 <b>Высказаться</b>\n\nНапишите сообщение одним текстом. Перед публикацией вы сможете подтвердить отправку.",
}

// LoadPanels reads start.txt, rules.txt, policy.txt and work.txt from dir.
// An empty dir yields the defaults.
func LoadPanels(dir string) Panels {
	p := DefaultPanels
	if dir == "" {
		return p
	}
	load := func(name string, dst *string) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Warn().Err(err).Str("file", name).Msg("panels: read failed, using default")
			}
			return
		}
		if txt := strings.TrimSpace(string(b)); txt != "" {
			*dst = txt
		}
	}
	load("start.txt", &p.Welcome)
	load("rules.txt", &p.Rules)
	load("policy.txt", &p.Policy)
	load("work.txt", &p.Speaking)
	return p
}
