package voice

import (
	"log"
	"strings"

	"github.com/zhouzirui/z-tavern/companion/internal/language"
)

// Voice 平台提供的合成声音
type Voice struct {
	Name         string `json:"name"`
	Lang         string `json:"lang"`
	Gender       string `json:"gender,omitempty"`
	LocalService bool   `json:"localService,omitempty"`
	Default      bool   `json:"default,omitempty"`
}

const preferredVendor = "Google"

var femaleNames = []string{"Samantha", "Karen", "Kyoko", "Ting-Ting", "Yuna", "Monica"}

// SelectVoice 为 lang 选择最合适的声音，voices 为空时返回 nil
func SelectVoice(lang language.Code, voices []Voice) *Voice {
	if len(voices) == 0 {
		return nil
	}

	profile := ProfileFor(lang)
	prefix := strings.ToLower(lang.Base())

	matching := make([]int, 0, len(voices))
	for i, v := range voices {
		if matchesPrefix(v.Lang, prefix) {
			matching = append(matching, i)
		}
	}

	ranks := []func(Voice) bool{
		func(v Voice) bool { return containsAny(v.Name, profile.PreferredVoices) },
		func(v Voice) bool { return strings.Contains(v.Name, preferredVendor) },
		isFemale,
		func(Voice) bool { return true },
	}
	for _, rank := range ranks {
		for _, i := range matching {
			if rank(voices[i]) {
				return &voices[i]
			}
		}
	}

	log.Printf("[voice] no %s voice among %d, falling back to %q", lang, len(voices), voices[0].Name)
	return &voices[0]
}

func matchesPrefix(voiceLang, prefix string) bool {
	l := strings.ToLower(strings.ReplaceAll(voiceLang, "_", "-"))
	if strings.HasPrefix(l, prefix) {
		return true
	}
	// espeak 等平台把普通话标记为 cmn
	return prefix == "zh" && strings.HasPrefix(l, "cmn")
}

func containsAny(name string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(name, c) {
			return true
		}
	}
	return false
}

func isFemale(v Voice) bool {
	if strings.EqualFold(v.Gender, "female") || strings.Contains(strings.ToLower(v.Name), "female") {
		return true
	}
	return containsAny(v.Name, femaleNames)
}
