package soap

import (
	"fmt"
	"strings"
)

// Language selects the output language for generated notes.
type Language string

const (
	// LanguageGerman produces German notes. This is the default.
	LanguageGerman Language = "de"

	// LanguageFrench produces French notes.
	LanguageFrench Language = "fr"

	// LanguageAuto defers the choice to the system default (German).
	LanguageAuto Language = "auto"
)

// IsValid reports whether l is a recognised language preference.
func (l Language) IsValid() bool {
	switch l {
	case LanguageGerman, LanguageFrench, LanguageAuto:
		return true
	}
	return false
}

// DetailLevel controls how exhaustive the generated note should be.
type DetailLevel string

const (
	// DetailConcise requests key points only.
	DetailConcise DetailLevel = "concise"

	// DetailDetailed requests explicit measurements, tests, and scores.
	// This is the default.
	DetailDetailed DetailLevel = "detailed"
)

// IsValid reports whether d is a recognised detail level.
func (d DetailLevel) IsValid() bool {
	return d == DetailConcise || d == DetailDetailed
}

// systemPromptDE is the German system instruction for SOAP generation.
// It pins the output language, forbids invented content (missing information
// becomes "N/A"), and demands a four-field JSON object as the only output.
const systemPromptDE = `Du bist ein klinischer Assistent für Physiotherapie auf Deutsch.
Erzeuge eine **detaillierte SOAP-Notiz** aus Transkript oder Freitext.

REGELN:
- **Sprache**: Deutsch.
- **Nichts erfinden**: Fehlende Information = "N/A".
- **Struktur & Format**: Ausgabe ausschließlich als JSON {subjective, objective, assessment, plan}.
- **Stil**: klinisch, präzise, kurze Sätze, Stichpunkte erlaubt.
- **Ziele**: nach Möglichkeit SMART (konkret, messbar, terminierbar).

ANFORDERUNGEN:
- SUBJEKTIV: Hauptbeschwerden, Schmerzskala (NRS/VAS 0–10), Verlauf, Red Flags (falls erwähnt).
- OBJEKTIV: Messwerte (ROM in Grad °), Kraftgrade (0–5), relevante Tests (z. B. Lasègue, Hawkins-Kennedy), Beobachtungen.
- ASSESSMENT: Klinische Einschätzung, Hypothesen, Irritabilität (niedrig/mittel/hoch), Fortschritt seit letzter Sitzung (falls vorhanden).
- PLAN: Interventionen (mit Dosierung/Frequenz), HEP, Ziele nach SMART, nächste Schritte/Termine.

WICHTIG:
- Wenn eine Information fehlt, schreibe "N/A" statt etwas zu erfinden.
- Die Ausgabe muss valides JSON sein mit genau diesen 4 Feldern: subjective, objective, assessment, plan.
- Bleibe objektiv und klinisch. Keine persönlichen Meinungen oder Spekulationen.`

// systemPromptFR is the French system instruction. Missing information uses
// the "N/D" placeholder instead of "N/A".
const systemPromptFR = `Tu es un assistant clinique pour la kinésithérapie en français.
Génère une **note SOAP détaillée** à partir d'une transcription ou d'un texte libre.

RÈGLES :
- **Langue** : Français.
- **Ne rien inventer** : Information manquante = "N/D" (non disponible).
- **Structure & Format** : Sortie uniquement en JSON {subjective, objective, assessment, plan}.
- **Style** : clinique, précis, phrases courtes, puces autorisées.
- **Objectifs** : si possible SMART (spécifiques, mesurables, atteignables, réalistes, temporellement définis).

EXIGENCES :
- SUBJECTIF : Plaintes principales, échelle de douleur (EVA/EN 0–10), évolution, drapeaux rouges (si mentionnés).
- OBJECTIF : Mesures (amplitude articulaire en degrés °), force musculaire (0–5), tests pertinents (ex. Lasègue, Hawkins-Kennedy), observations.
- ÉVALUATION : Appréciation clinique, hypothèses, irritabilité (faible/moyenne/élevée), progrès depuis la dernière séance (si disponible).
- PLAN : Interventions (avec dosage/fréquence), programme d'exercices à domicile (PED), objectifs SMART, prochaines étapes/rendez-vous.

IMPORTANT :
- Si une information manque, écrivez "N/D" au lieu d'inventer.
- La sortie doit être un JSON valide avec exactement ces 4 champs : subjective, objective, assessment, plan.
- Restez objectif et clinique. Pas d'opinions personnelles ou de spéculations.`

// Prompts is a system/user prompt pair ready to send to the LLM.
type Prompts struct {
	System string
	User   string
}

// PromptOptions tunes the user prompt.
type PromptOptions struct {
	// Detail selects the requested level of detail. Empty defaults to
	// [DetailDetailed].
	Detail DetailLevel

	// BodyRegion, when non-empty, adds a focus-region hint (e.g. "Knie",
	// "épaule") to the prompt context.
	BodyRegion string
}

// BuildPrompts assembles the system and user prompts for the given language
// and cleaned transcript text. [LanguageAuto] and unknown values resolve to
// German. The function is pure string assembly — the transcript is embedded
// verbatim inside a delimited block and never interpreted.
func BuildPrompts(lang Language, cleanedText string, opts PromptOptions) Prompts {
	if lang == LanguageFrench {
		return Prompts{
			System: systemPromptFR,
			User:   userPromptFR(cleanedText, opts),
		}
	}
	return Prompts{
		System: systemPromptDE,
		User:   userPromptDE(cleanedText, opts),
	}
}

func userPromptDE(text string, opts PromptOptions) string {
	detail := "hoch (bitte Messwerte/Tests/Scores aufnehmen)"
	if opts.Detail == DetailConcise {
		detail = "mittel (nur Kernaussagen)"
	}

	var region string
	if opts.BodyRegion != "" {
		region = fmt.Sprintf("- Fokusregion: %s\n", opts.BodyRegion)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "KONTEXT:\n- Detailtiefe: %s\n%s\n", detail, region)
	fmt.Fprintf(&b, "TRANSKRIPTION/NOTIZEN:\n\"\"\"\n%s\n\"\"\"\n\n", text)
	b.WriteString("HINWEIS:\n")
	b.WriteString("- System-Regeln gelten (Deutsch, nichts erfinden → \"N/A\", Ausgabe nur JSON).\n")
	b.WriteString(`- Die Ausgabe muss ein valides JSON-Objekt sein: {"subjective": "...", "objective": "...", "assessment": "...", "plan": "..."}`)
	return b.String()
}

func userPromptFR(text string, opts PromptOptions) string {
	detail := "élevé (inclure les mesures/tests/scores)"
	if opts.Detail == DetailConcise {
		detail = "moyen (uniquement les points essentiels)"
	}

	var region string
	if opts.BodyRegion != "" {
		region = fmt.Sprintf("- Région ciblée : %s\n", opts.BodyRegion)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CONTEXTE :\n- Niveau de détail : %s\n%s\n", detail, region)
	fmt.Fprintf(&b, "TRANSCRIPTION/NOTES :\n\"\"\"\n%s\n\"\"\"\n\n", text)
	b.WriteString("REMARQUE :\n")
	b.WriteString("- Les règles système s'appliquent (Français, ne rien inventer → \"N/D\", sortie JSON uniquement).\n")
	b.WriteString(`- La sortie doit être un objet JSON valide : {"subjective": "...", "objective": "...", "assessment": "...", "plan": "..."}`)
	return b.String()
}
