package scenario

import "github.com/zhouzirui/z-tavern/companion/internal/language"

// Kind 区分场景所在的练习页面
type Kind string

const (
	KindConversation Kind = "conversation"
	KindRoleplay     Kind = "roleplay"
	KindVoice        Kind = "voice"
)

// DefaultID 页面未指定场景时使用的自由对话场景
const DefaultID = "free-talk"

// Scenario 描述打开会话时的页面上下文
type Scenario struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"kind"`
	Welcome     string `json:"welcome,omitempty"`
}

// WelcomeFor 返回指定语言的开场白。场景台词只有英文版本，
// 其他语言使用该语言的默认欢迎语
func (s Scenario) WelcomeFor(lang language.Code) string {
	if s.Welcome != "" && lang == language.English {
		return s.Welcome
	}
	return lang.WelcomeMessage()
}

// RoleplayTitle 角色扮演页面返回传给后端的场景标题，其他页面返回空字符串
func (s Scenario) RoleplayTitle() string {
	if s.Kind != KindRoleplay {
		return ""
	}
	return s.Title
}

// Seed 提供内置练习场景
func Seed() []Scenario {
	return []Scenario{
		{
			ID:          DefaultID,
			Title:       "Free Conversation",
			Description: "Open-ended chat with a patient conversation partner.",
			Kind:        KindConversation,
		},
		{
			ID:          "coffee-shop",
			Title:       "Ordering at a Coffee Shop",
			Description: "Order a drink, ask about sizes and pay at the counter.",
			Kind:        KindRoleplay,
			Welcome:     "Hi there, welcome in! What can I get started for you today?",
		},
		{
			ID:          "hotel-checkin",
			Title:       "Hotel Check-in",
			Description: "Check in at the front desk and ask about the room and breakfast.",
			Kind:        KindRoleplay,
			Welcome:     "Good evening and welcome to our hotel. Do you have a reservation with us?",
		},
		{
			ID:          "job-interview",
			Title:       "Job Interview",
			Description: "Answer common interview questions about your experience.",
			Kind:        KindRoleplay,
			Welcome:     "Thanks for coming in today. Could you start by telling me a little about yourself?",
		},
		{
			ID:          "pronunciation",
			Title:       "Pronunciation Practice",
			Description: "Speak short sentences aloud and compare them with the model audio.",
			Kind:        KindVoice,
		},
	}
}
