package voice

import (
	"testing"

	"github.com/zhouzirui/z-tavern/companion/internal/language"
)

func TestSelectVoiceRanking(t *testing.T) {
	cases := []struct {
		name   string
		lang   language.Code
		voices []Voice
		want   string
	}{
		{
			name: "curated preference wins",
			lang: language.Japanese,
			voices: []Voice{
				{Name: "Google 日本語 Extra", Lang: "en-US"},
				{Name: "Otoya", Lang: "ja-JP"},
				{Name: "Google Japanese Male", Lang: "ja-JP"},
				{Name: "Kyoko", Lang: "ja-JP"},
			},
			want: "Kyoko",
		},
		{
			name: "preferred name must match locale",
			lang: language.English,
			voices: []Voice{
				{Name: "Samantha", Lang: "fr-FR"},
				{Name: "Daniel", Lang: "en-GB"},
			},
			want: "Daniel",
		},
		{
			name: "vendor family next",
			lang: language.Spanish,
			voices: []Voice{
				{Name: "Jorge", Lang: "es-ES"},
				{Name: "Google español de Estados Unidos", Lang: "es-US"},
			},
			want: "Google español de Estados Unidos",
		},
		{
			name: "female heuristic",
			lang: language.German,
			voices: []Voice{
				{Name: "Markus", Lang: "de-DE"},
				{Name: "German Female", Lang: "de_DE"},
			},
			want: "German Female",
		},
		{
			name: "gender metadata counts as female",
			lang: language.Korean,
			voices: []Voice{
				{Name: "Minsu", Lang: "ko-KR", Gender: "male"},
				{Name: "Jiyoung", Lang: "ko-KR", Gender: "female"},
			},
			want: "Jiyoung",
		},
		{
			name: "any voice with prefix",
			lang: language.Italian,
			voices: []Voice{
				{Name: "Daniel", Lang: "en-GB"},
				{Name: "Luca", Lang: "it-IT"},
			},
			want: "Luca",
		},
		{
			name: "traditional chinese matches zh prefix",
			lang: language.ChineseTraditional,
			voices: []Voice{
				{Name: "Daniel", Lang: "en-GB"},
				{Name: "Meijia", Lang: "zh-TW"},
			},
			want: "Meijia",
		},
		{
			name: "mandarin tagged cmn",
			lang: language.ChineseSimplified,
			voices: []Voice{
				{Name: "english", Lang: "en"},
				{Name: "cmn", Lang: "cmn"},
			},
			want: "cmn",
		},
		{
			name: "first voice as last resort",
			lang: language.Hindi,
			voices: []Voice{
				{Name: "Daniel", Lang: "en-GB"},
				{Name: "Luca", Lang: "it-IT"},
			},
			want: "Daniel",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SelectVoice(tc.lang, tc.voices)
			if got == nil || got.Name != tc.want {
				t.Fatalf("SelectVoice = %+v, want %q", got, tc.want)
			}
		})
	}
}

func TestSelectVoiceNoVoices(t *testing.T) {
	if got := SelectVoice(language.English, nil); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestProfilesSlowDenseLanguages(t *testing.T) {
	en := ProfileFor(language.English)
	for _, code := range []language.Code{language.Japanese, language.Korean, language.ChineseSimplified, language.ChineseTraditional} {
		if p := ProfileFor(code); p.Rate >= en.Rate {
			t.Errorf("%s rate %.2f should be below English %.2f", code, p.Rate, en.Rate)
		}
	}
	if p := ProfileFor(language.Code("xx")); p.Rate != defaultRate || p.Pitch != defaultPitch {
		t.Fatalf("unexpected default profile %+v", p)
	}
}

func TestBackendParams(t *testing.T) {
	got := BackendParams(language.Japanese)
	if got.VoiceType != "neural" || got.Model != "ja-JP-Neural2-B" {
		t.Fatalf("unexpected params %+v", got)
	}
	for _, code := range language.Supported() {
		if BackendParams(code).Model == "" {
			t.Errorf("missing neural model for %s", code)
		}
	}
}
