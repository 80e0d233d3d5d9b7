package locale

import "golang.org/x/text/language"

// DefaultTranslations seeds Spanish and French, the same two
// languages pkg/bpkgerrors's error catalog ships by default — kept in
// sync so a Spanish-configured install gets consistent wording for
// both error messages and ordinary status output.
var DefaultTranslations = map[language.Tag]map[Key]string{
	language.Spanish: {
		KeyBubbleBuilt:          "burbuja creada %[1]s@%[2]s",
		KeyBubbleExists:         "la burbuja %[1]s@%[2]s ya existe, reutilizando",
		KeySnapshotCaptured:     "instantánea capturada %[1]s",
		KeyRevertApplied:        "revertido a la instantánea %[1]s",
		KeyRevertPartial:        "la reversión a %[1]s solo se aplicó parcialmente, instantánea registrada %[2]s",
		KeyDoctorAllOK:          "todas las comprobaciones pasaron",
		KeyDoctorIssuesFound:    "%[1]d comprobación(es) fallaron",
		KeyHealingPlanProposed:  "se propusieron %[1]d requisito(s) para resolver el error",
		KeyHealingPlanEmpty:     "ninguna regla de reparación coincidió con este error",
		KeyInterpreterActivated: "activado %[1]s@%[2]s",
	},
	language.French: {
		KeyBubbleBuilt:          "bulle créée %[1]s@%[2]s",
		KeyBubbleExists:         "la bulle %[1]s@%[2]s existe déjà, réutilisation",
		KeySnapshotCaptured:     "instantané capturé %[1]s",
		KeyRevertApplied:        "retour à l'instantané %[1]s",
		KeyRevertPartial:        "le retour vers %[1]s n'a été que partiellement appliqué, instantané enregistré %[2]s",
		KeyDoctorAllOK:          "toutes les vérifications ont réussi",
		KeyDoctorIssuesFound:    "%[1]d vérification(s) échouée(s)",
		KeyHealingPlanProposed:  "%[1]d exigence(s) proposée(s) pour résoudre l'erreur",
		KeyHealingPlanEmpty:     "aucune règle de réparation ne correspond à cette erreur",
		KeyInterpreterActivated: "activé %[1]s@%[2]s",
	},
}
