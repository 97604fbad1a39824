package roomstate

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	keyJoined = "presence.joined"
	keyLeft   = "presence.left"
)

var (
	presenceCatalog = newPresenceCatalog()
	presenceMatcher = language.NewMatcher([]language.Tag{language.English, language.Spanish})
)

func newPresenceCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	messages := map[language.Tag]map[string]string{
		language.English: {
			keyJoined: "%s joined the room",
			keyLeft:   "%s left the room",
		},
		language.Spanish: {
			keyJoined: "%s se unió a la sala",
			keyLeft:   "%s salió de la sala",
		},
	}
	for tag, entries := range messages {
		for key, msg := range entries {
			// keys and formats are static, so SetString cannot fail
			_ = b.SetString(tag, key, msg)
		}
	}
	return b
}

// Presence formats the system messages that announce roster changes.
type Presence struct {
	printer *message.Printer
}

// NewPresence picks the closest supported locale; unknown or empty
// locales fall back to English.
func NewPresence(locale string) *Presence {
	tag := language.English
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			matched, _, _ := presenceMatcher.Match(parsed)
			base, _ := matched.Base()
			tag = language.Make(base.String())
		}
	}
	return &Presence{printer: message.NewPrinter(tag, message.Catalog(presenceCatalog))}
}

func (p *Presence) Joined(username string) string {
	return p.printer.Sprintf(keyJoined, username)
}

func (p *Presence) Left(username string) string {
	return p.printer.Sprintf(keyLeft, username)
}
