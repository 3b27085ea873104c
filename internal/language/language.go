package language

import "strings"

// Code 练习会话中使用的规范语言代码
type Code string

const (
	English            Code = "en"
	Japanese           Code = "ja"
	Korean             Code = "ko"
	ChineseSimplified  Code = "zh-CN"
	ChineseTraditional Code = "zh-TW"
	Spanish            Code = "es"
	French             Code = "fr"
	Italian            Code = "it"
	German             Code = "de"
	Hindi              Code = "hi"
)

// Supported 按显示顺序列出所有规范代码
func Supported() []Code {
	return []Code{English, Japanese, Korean, ChineseSimplified, ChineseTraditional, Spanish, French, Italian, German, Hindi}
}

type rule struct {
	code     Code
	prefixes []string
	names    []string
}

// 规则按顺序匹配，繁体中文必须排在通用中文之前
var rules = []rule{
	{
		code:     ChineseTraditional,
		prefixes: []string{"zh-tw", "zh-hk", "zh-mo", "zh-hant", "cmn-tw", "cmn-hant", "yue"},
		names:    []string{"traditional", "taiwan", "hong kong", "繁體", "繁体", "國語", "cantonese"},
	},
	{
		code:     ChineseSimplified,
		prefixes: []string{"zh", "cmn"},
		names:    []string{"chinese", "mandarin", "simplified", "中文", "普通话", "简体"},
	},
	{code: Japanese, prefixes: []string{"ja", "jp"}, names: []string{"japanese", "日本語"}},
	{code: Korean, prefixes: []string{"ko", "kr"}, names: []string{"korean", "한국어"}},
	{code: Spanish, prefixes: []string{"es"}, names: []string{"spanish", "español", "espanol", "castellano"}},
	{code: French, prefixes: []string{"fr"}, names: []string{"french", "français", "francais"}},
	{code: Italian, prefixes: []string{"it"}, names: []string{"italian", "italiano"}},
	{code: German, prefixes: []string{"de"}, names: []string{"german", "deutsch"}},
	{code: Hindi, prefixes: []string{"hi"}, names: []string{"hindi", "हिन्दी", "हिंदी"}},
	{code: English, prefixes: []string{"en"}, names: []string{"english"}},
}

// Normalize 将语言名称、区域标签或规范代码映射为规范 Code，
// 无法识别时返回英文
func Normalize(input string) Code {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return English
	}
	s = strings.ReplaceAll(s, "_", "-")

	for _, r := range rules {
		if r.matches(s) {
			return r.code
		}
	}
	return English
}

func (r rule) matches(s string) bool {
	for _, p := range r.prefixes {
		if s == p || strings.HasPrefix(s, p+"-") {
			return true
		}
	}
	for _, name := range r.names {
		if strings.Contains(s, name) {
			return true
		}
	}
	return false
}

// IsSupported 判断 raw 是否已是规范代码（精确匹配）
func IsSupported(raw string) bool {
	for _, code := range Supported() {
		if string(code) == raw {
			return true
		}
	}
	return false
}

// Base 返回主子标签，例如 zh-TW 返回 "zh"
func (c Code) Base() string {
	base, _, _ := strings.Cut(string(c), "-")
	return base
}

func (c Code) String() string { return string(c) }
