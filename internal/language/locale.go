package language

var speechLocales = map[Code]string{
	English:            "en-US",
	Japanese:           "ja-JP",
	Korean:             "ko-KR",
	ChineseSimplified:  "zh-CN",
	ChineseTraditional: "zh-TW",
	Spanish:            "es-ES",
	French:             "fr-FR",
	Italian:            "it-IT",
	German:             "de-DE",
	Hindi:              "hi-IN",
}

var displayNames = map[Code]string{
	English:            "English",
	Japanese:           "Japanese",
	Korean:             "Korean",
	ChineseSimplified:  "Chinese (Simplified)",
	ChineseTraditional: "Chinese (Traditional)",
	Spanish:            "Spanish",
	French:             "French",
	Italian:            "Italian",
	German:             "German",
	Hindi:              "Hindi",
}

var welcomeMessages = map[Code]string{
	English:            "Hello! I'm your conversation partner. What would you like to talk about today?",
	Japanese:           "こんにちは！私はあなたの会話パートナーです。今日は何について話したいですか？",
	Korean:             "안녕하세요! 저는 당신의 대화 파트너입니다. 오늘은 무엇에 대해 이야기하고 싶으세요?",
	ChineseSimplified:  "你好！我是你的对话伙伴。今天想聊些什么呢？",
	ChineseTraditional: "你好！我是你的對話夥伴。今天想聊些什麼呢？",
	Spanish:            "¡Hola! Soy tu compañero de conversación. ¿De qué te gustaría hablar hoy?",
	French:             "Bonjour ! Je suis votre partenaire de conversation. De quoi aimeriez-vous parler aujourd'hui ?",
	Italian:            "Ciao! Sono il tuo partner di conversazione. Di cosa vorresti parlare oggi?",
	German:             "Hallo! Ich bin dein Gesprächspartner. Worüber möchtest du heute sprechen?",
	Hindi:              "नमस्ते! मैं आपका वार्तालाप साथी हूँ। आज आप किस बारे में बात करना चाहेंगे?",
}

// SpeechLocale 返回语音识别与合成使用的 BCP-47 区域
func (c Code) SpeechLocale() string {
	if locale, ok := speechLocales[c]; ok {
		return locale
	}
	return speechLocales[English]
}

// DisplayName 返回语言选择器中显示的英文名称
func (c Code) DisplayName() string {
	if name, ok := displayNames[c]; ok {
		return name
	}
	return string(c)
}

// WelcomeMessage 返回自由对话的开场白
func (c Code) WelcomeMessage() string {
	if msg, ok := welcomeMessages[c]; ok {
		return msg
	}
	return welcomeMessages[English]
}
