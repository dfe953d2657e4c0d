package soap

import (
	"strings"
	"testing"
)

func TestBuildPrompts_LanguageSelection(t *testing.T) {
	tests := []struct {
		name       string
		lang       Language
		wantSystem string
	}{
		{name: "german", lang: LanguageGerman, wantSystem: "auf Deutsch"},
		{name: "french", lang: LanguageFrench, wantSystem: "en français"},
		{name: "auto resolves to german", lang: LanguageAuto, wantSystem: "auf Deutsch"},
		{name: "unknown resolves to german", lang: Language("it"), wantSystem: "auf Deutsch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := BuildPrompts(tt.lang, "Patient klagt über Knieschmerzen seit Tagen.", PromptOptions{})
			if !strings.Contains(p.System, tt.wantSystem) {
				t.Errorf("system prompt for %q does not contain %q", tt.lang, tt.wantSystem)
			}
		})
	}
}

func TestBuildPrompts_TranscriptEmbeddedVerbatim(t *testing.T) {
	text := "Schulter rechts, Abduktion 80°, NRS 5/10."
	p := BuildPrompts(LanguageGerman, text, PromptOptions{})

	if !strings.Contains(p.User, "\"\"\"\n"+text+"\n\"\"\"") {
		t.Errorf("user prompt does not embed transcript inside delimited block:\n%s", p.User)
	}
}

func TestBuildPrompts_DetailLevel(t *testing.T) {
	text := strings.Repeat("Befund. ", 10)

	detailed := BuildPrompts(LanguageGerman, text, PromptOptions{Detail: DetailDetailed})
	if !strings.Contains(detailed.User, "Messwerte/Tests/Scores") {
		t.Error("detailed prompt missing measurement instruction")
	}

	concise := BuildPrompts(LanguageGerman, text, PromptOptions{Detail: DetailConcise})
	if !strings.Contains(concise.User, "nur Kernaussagen") {
		t.Error("concise prompt missing key-points instruction")
	}

	// Empty detail defaults to detailed.
	def := BuildPrompts(LanguageGerman, text, PromptOptions{})
	if def.User != detailed.User {
		t.Error("empty detail level should default to detailed")
	}
}

func TestBuildPrompts_BodyRegion(t *testing.T) {
	text := "Patient klagt über Beschwerden im unteren Rücken."

	with := BuildPrompts(LanguageGerman, text, PromptOptions{BodyRegion: "LWS"})
	if !strings.Contains(with.User, "Fokusregion: LWS") {
		t.Error("body region hint missing from user prompt")
	}

	without := BuildPrompts(LanguageGerman, text, PromptOptions{})
	if strings.Contains(without.User, "Fokusregion") {
		t.Error("body region hint present despite empty option")
	}
}

func TestBuildPrompts_Deterministic(t *testing.T) {
	opts := PromptOptions{Detail: DetailConcise, BodyRegion: "Knie"}
	a := BuildPrompts(LanguageFrench, "Douleur au genou depuis trois jours.", opts)
	b := BuildPrompts(LanguageFrench, "Douleur au genou depuis trois jours.", opts)
	if a != b {
		t.Error("BuildPrompts is not deterministic")
	}
}

func TestLanguageIsValid(t *testing.T) {
	for _, l := range []Language{LanguageGerman, LanguageFrench, LanguageAuto} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if Language("en").IsValid() {
		t.Error("unknown language reported valid")
	}
}

func TestDetailLevelIsValid(t *testing.T) {
	for _, d := range []DetailLevel{DetailConcise, DetailDetailed} {
		if !d.IsValid() {
			t.Errorf("%q should be valid", d)
		}
	}
	if DetailLevel("verbose").IsValid() {
		t.Error("unknown detail level reported valid")
	}
}
