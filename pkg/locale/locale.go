// Package locale renders the user-facing half of CLI and doctor output
// in the language selected by a config document's language_code (spec
// Section 6, "[ADDED] Localization"). pkg/bpkgerrors carries its own
// narrow catalog for the error taxonomy; this package covers
// everything else a human reads — doctor check summaries, healing
// plan descriptions, CLI status lines — as a thin wrapper over
// golang.org/x/text/message catalogs, the same library the error
// taxonomy uses.
package locale

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key identifies one localizable message template.
type Key string

const (
	KeyBubbleBuilt          Key = "bubble_built"
	KeyBubbleExists         Key = "bubble_exists"
	KeySnapshotCaptured     Key = "snapshot_captured"
	KeyRevertApplied        Key = "revert_applied"
	KeyRevertPartial        Key = "revert_partial"
	KeyDoctorAllOK          Key = "doctor_all_ok"
	KeyDoctorIssuesFound    Key = "doctor_issues_found"
	KeyHealingPlanProposed  Key = "healing_plan_proposed"
	KeyHealingPlanEmpty     Key = "healing_plan_empty"
	KeyInterpreterActivated Key = "interpreter_activated"
)

// englishTemplates is the fallback wording for every Key, used
// verbatim when a catalog has no entry for the requested language.
var englishTemplates = map[Key]string{
	KeyBubbleBuilt:          "built bubble %[1]s@%[2]s",
	KeyBubbleExists:         "bubble %[1]s@%[2]s already exists, reusing",
	KeySnapshotCaptured:     "captured snapshot %[1]s",
	KeyRevertApplied:        "reverted to snapshot %[1]s",
	KeyRevertPartial:        "revert to %[1]s only partially applied, recorded snapshot %[2]s",
	KeyDoctorAllOK:          "all checks passed",
	KeyDoctorIssuesFound:    "%[1]d check(s) failed",
	KeyHealingPlanProposed:  "proposed %[1]d requirement(s) to resolve the error",
	KeyHealingPlanEmpty:     "no healing rule matched this error",
	KeyInterpreterActivated: "activated %[1]s@%[2]s",
}

// Catalog renders Keys into one language's wording. Build once per
// process and share across callers; Printer construction per call is
// cheap but the underlying catalog.Catalog is built once.
type Catalog struct {
	cat catalog.Catalog
}

// New builds a Catalog. Additional languages are registered by
// supplying translations; English requires none, since New registers
// englishTemplates itself as the English entries, which are also the
// catalog's fallback language.
func New(translations map[language.Tag]map[Key]string) (*Catalog, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))

	for key, tmpl := range englishTemplates {
		if err := b.SetString(language.English, string(key), tmpl); err != nil {
			return nil, err
		}
	}

	for tag, entries := range translations {
		for key, tmpl := range entries {
			if err := b.SetString(tag, string(key), tmpl); err != nil {
				return nil, err
			}
		}
	}

	return &Catalog{cat: b}, nil
}

// Render renders key in lang (falling back to English on an
// unparseable or unregistered language tag), interpolating args
// positionally per the template's %[n]s verbs.
func (c *Catalog) Render(lang string, key Key, args ...any) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	p := message.NewPrinter(tag, message.Catalog(c.cat))
	return p.Sprintf(string(key), args...)
}
