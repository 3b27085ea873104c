package backend

import "strings"

// ChatRequest POST /api/chat 的请求体
type ChatRequest struct {
	Username       string  `json:"username"`
	Message        string  `json:"message"`
	Scenario       string  `json:"scenario,omitempty"`
	Language       string  `json:"language"`
	UserLocale     string  `json:"user_locale"`
	ResponseLocale string  `json:"response_locale"`
	VoiceLocale    string  `json:"voice_locale"`
	ConversationID *string `json:"conversation_id"`
	SaveToHistory  bool    `json:"save_to_history"`
	IsDiscarded    bool    `json:"is_discarded"`
	BatchID        string  `json:"batch_id"`
}

// ChatResponse 汇总后端可能返回的各种回复字段，
// 读取回复请使用 Text
type ChatResponse struct {
	Message        string `json:"message,omitempty"`
	Response       string `json:"response,omitempty"`
	AIResponse     string `json:"ai_response,omitempty"`
	AudioURL       string `json:"audio_url,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Text 返回第一个非空的回复字段
func (r ChatResponse) Text() string {
	for _, candidate := range []string{r.Message, r.Response, r.AIResponse} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return ""
}

type suggestionsRequest struct {
	Username string `json:"username"`
	Language string `json:"language"`
	Scenario string `json:"scenario,omitempty"`
}

type suggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

// AudioRequest POST /api/generate_audio 的请求体
type AudioRequest struct {
	Text         string `json:"text"`
	Language     string `json:"language"`
	VoiceType    string `json:"voice_type"`
	Model        string `json:"model,omitempty"`
	UseOptimized bool   `json:"use_optimized"`
}

type audioResponse struct {
	AudioURL string `json:"audio_url"`
}

// SavedTurn save_conversation 载荷中的一条记录，User 与 AI 恰好设置其一
type SavedTurn struct {
	User        *string `json:"user,omitempty"`
	AI          *string `json:"ai,omitempty"`
	Timestamp   string  `json:"timestamp"`
	BatchID     string  `json:"batch_id"`
	IsDiscarded bool    `json:"is_discarded"`
	AudioURL    string  `json:"audio_url,omitempty"`
}

type saveRequest struct {
	Username     string      `json:"username"`
	Conversation []SavedTurn `json:"conversation"`
	IsDiscarded  bool        `json:"is_discarded"`
	BatchID      string      `json:"batch_id"`
}

// ClearRequest POST /api/clear_conversation 的请求体
type ClearRequest struct {
	Username    string `json:"username"`
	BatchID     string `json:"batch_id"`
	ForceClear  bool   `json:"force_clear"`
	IsDiscarded bool   `json:"is_discarded"`
}

// Profile 用户保存的语言偏好
type Profile struct {
	Username     string `json:"username"`
	Language     string `json:"language"`
	Locale       string `json:"locale"`
	LanguageName string `json:"language_name,omitempty"`
}

type profileResponse struct {
	Data *Profile `json:"data"`
}

type scenarioRequest struct {
	Username    string `json:"username"`
	Scenario    string `json:"scenario"`
	Language    string `json:"language"`
	Description string `json:"description"`
}
