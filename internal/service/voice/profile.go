package voice

import "github.com/zhouzirui/z-tavern/companion/internal/language"

// Profile 某种语言固定的合成参数
type Profile struct {
	Locale          string
	PreferredVoices []string
	Rate            float64
	Pitch           float64
}

// BackendVoice 发给后端 TTS 接口的声音参数
type BackendVoice struct {
	VoiceType string
	Model     string
}

const (
	defaultRate  = 0.9
	defaultPitch = 1.0
)

// 语音信息密集的语言放慢语速
var profiles = map[language.Code]Profile{
	language.English:            {Locale: "en-US", PreferredVoices: []string{"Google US English Female", "Microsoft Zira", "Samantha"}, Rate: 0.95, Pitch: 1.0},
	language.Japanese:           {Locale: "ja-JP", PreferredVoices: []string{"Google 日本語", "Microsoft Haruka", "Kyoko"}, Rate: 0.85, Pitch: 1.05},
	language.ChineseSimplified:  {Locale: "zh-CN", PreferredVoices: []string{"Google 普通话（中国大陆）", "Microsoft Yaoyao", "Tingting"}, Rate: 0.85, Pitch: 1.0},
	language.ChineseTraditional: {Locale: "zh-TW", PreferredVoices: []string{"Google 國語（臺灣）", "Microsoft Hanhan", "Meijia"}, Rate: 0.85, Pitch: 1.0},
	language.Korean:             {Locale: "ko-KR", PreferredVoices: []string{"Google 한국의", "Microsoft Heami", "Yuna"}, Rate: 0.82, Pitch: 1.0},
	language.Spanish:            {Locale: "es-ES", PreferredVoices: []string{"Google español", "Microsoft Helena", "Monica"}, Rate: 0.92, Pitch: 1.0},
	language.French:             {Locale: "fr-FR", PreferredVoices: []string{"Google français", "Microsoft Julie", "Amelie"}, Rate: 0.9, Pitch: 1.0},
	language.Italian:            {Locale: "it-IT", PreferredVoices: []string{"Google italiano", "Microsoft Elsa", "Alice"}, Rate: 0.9, Pitch: 1.0},
	language.German:             {Locale: "de-DE", PreferredVoices: []string{"Google Deutsch", "Microsoft Hedda", "Anna"}, Rate: 0.85, Pitch: 1.0},
	language.Hindi:              {Locale: "hi-IN", PreferredVoices: []string{"Google हिन्दी", "Microsoft Heera", "Lekha"}, Rate: 0.85, Pitch: 1.05},
}

var neuralModels = map[language.Code]string{
	language.English:            "en-US-Neural2-F",
	language.Japanese:           "ja-JP-Neural2-B",
	language.ChineseSimplified:  "cmn-CN-Neural2-A",
	language.ChineseTraditional: "cmn-TW-Neural2-A",
	language.Korean:             "ko-KR-Neural2-A",
	language.Spanish:            "es-ES-Neural2-A",
	language.French:             "fr-FR-Neural2-A",
	language.Italian:            "it-IT-Neural2-A",
	language.German:             "de-DE-Neural2-B",
	language.Hindi:              "hi-IN-Neural2-A",
}

// ProfileFor 返回 lang 的合成参数
func ProfileFor(lang language.Code) Profile {
	if p, ok := profiles[lang]; ok {
		return p
	}
	return Profile{Locale: lang.SpeechLocale(), Rate: defaultRate, Pitch: defaultPitch}
}

// BackendParams 返回 lang 对应的后端 TTS 声音
func BackendParams(lang language.Code) BackendVoice {
	return BackendVoice{VoiceType: "neural", Model: neuralModels[lang]}
}
