package session

import (
	"time"

	model "github.com/zhouzirui/z-tavern/companion/internal/model/conversation"
	"github.com/zhouzirui/z-tavern/companion/internal/service/lifecycle"
	"github.com/zhouzirui/z-tavern/companion/internal/service/suggestion"
)

// View 会话某一时刻的快照，用于渲染
type View struct {
	ID                     string             `json:"id"`
	TabID                  string             `json:"tabId"`
	Username               string             `json:"username"`
	ScenarioID             string             `json:"scenarioId"`
	ScenarioTitle          string             `json:"scenarioTitle"`
	Language               string             `json:"language"`
	LanguageName           string             `json:"languageName"`
	BatchID                string             `json:"batchId"`
	Decision               lifecycle.Decision `json:"decision"`
	Turns                  []model.Turn       `json:"turns"`
	Suggestions            []string           `json:"suggestions"`
	SuggestionState        suggestion.State   `json:"suggestionState"`
	SuggestionTranslations map[int]string     `json:"suggestionTranslations,omitempty"`
	ActivePlayback         string             `json:"activePlayback,omitempty"`
	Closed                 bool               `json:"closed"`
	CreatedAt              time.Time          `json:"createdAt"`
}

// View 生成会话快照
func (s *Session) View() View {
	s.mu.Lock()
	lang := s.lang
	closed := s.closed
	translations := make(map[int]string, len(s.suggestionTranslations))
	for k, v := range s.suggestionTranslations {
		translations[k] = v
	}
	s.mu.Unlock()

	suggestions := s.suggest.Suggestions()
	if suggestions == nil {
		suggestions = []string{}
	}

	return View{
		ID:                     s.id,
		TabID:                  s.tabID,
		Username:               s.username,
		ScenarioID:             s.scenario.ID,
		ScenarioTitle:          s.scenario.Title,
		Language:               string(lang),
		LanguageName:           lang.DisplayName(),
		BatchID:                s.BatchID(),
		Decision:               s.machine.Decision(),
		Turns:                  s.turns.Snapshot(),
		Suggestions:            suggestions,
		SuggestionState:        s.suggest.State(),
		SuggestionTranslations: translations,
		ActivePlayback:         s.player.ActiveKey(),
		Closed:                 closed,
		CreatedAt:              s.createdAt,
	}
}
