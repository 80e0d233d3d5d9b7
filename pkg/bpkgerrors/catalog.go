package bpkgerrors

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// catalogRenderer renders a (code, detail) pair into a localized
// user-facing message. The technical detail is always preserved in
// Error(); Message only changes the wording around it.
type catalogRenderer struct {
	cat catalog.Catalog
}

var messageCatalog = newCatalogRenderer()

func newCatalogRenderer() *catalogRenderer {
	b := catalog.NewBuilder(catalog.Fallback(language.English))

	// English is the fallback language and needs no explicit entries:
	// render() falls back to "<code>: <detail>" verbatim for it.

	_ = b.SetString(language.Spanish, "retry", "reintentando la operación")
	_ = b.SetString(language.Spanish, "locked", "el entorno está bloqueado por otro proceso")
	_ = b.SetString(language.French, "retry", "nouvelle tentative de l'opération")
	_ = b.SetString(language.French, "locked", "l'environnement est verrouillé par un autre processus")

	return &catalogRenderer{cat: b}
}

func (c *catalogRenderer) render(lang, code, detail string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	p := message.NewPrinter(tag, message.Catalog(c.cat))

	var key string
	switch code {
	case string(CodeConflict), string(CodeInstallTimeout):
		key = "retry"
	case string(CodeLocked):
		key = "locked"
	}
	if key != "" {
		if msg := p.Sprintf(key); msg != key {
			return msg + ": " + detail
		}
	}
	return fmt.Sprintf("%s: %s", code, detail)
}
