package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-tavern/companion/internal/language"
)

const maxSuggestions = 3

const translateSystemPrompt = `You are a translation engine for language learners.
Translate the user's text from {source} into {target}.
Reply with the translation only, without quotes, notes or transliteration.`

const suggestSystemPrompt = `You help a learner practicing {language} keep a conversation going.
{scenario}
Propose short replies the learner could say next, written in {language}.
Answer with JSON only: {{"suggestions": ["...", "..."]}}`

// Service 封装语言后端无法响应时使用的大模型链
type Service struct {
	chatModel model.ChatModel
	translate compose.Runnable[map[string]any, *schema.Message]
	suggest   compose.Runnable[map[string]any, *schema.Message]
}

// NewService 基于 chatModel 编译翻译和建议链
func NewService(ctx context.Context, chatModel model.ChatModel) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	translate, err := compileChain(ctx, chatModel, translateSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compile translation chain: %w", err)
	}

	suggest, err := compileChain(ctx, chatModel, suggestSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compile suggestion chain: %w", err)
	}

	return &Service{chatModel: chatModel, translate: translate, suggest: suggest}, nil
}

func compileChain(ctx context.Context, chatModel model.ChatModel, system string) (compose.Runnable[map[string]any, *schema.Message], error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	return chain.Compile(ctx)
}

// Translate 实现 translation.Translator
func (s *Service) Translate(ctx context.Context, text, source, target string) (string, error) {
	input := map[string]any{
		"source": language.Normalize(source).DisplayName(),
		"target": language.Normalize(target).DisplayName(),
		"query":  text,
	}

	msg, err := s.translate.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run translation chain: %w", err)
	}

	out := strings.Trim(strings.TrimSpace(msg.Content), "\"“”")
	if out == "" {
		return "", fmt.Errorf("translation chain returned empty content")
	}
	log.Printf("[ai] translated %s->%s length=%d", source, target, len(out))
	return out, nil
}

// Suggestions 实现 suggestion.Fetcher，用户名不会发给模型
func (s *Service) Suggestions(ctx context.Context, _ string, lang, scenario string) ([]string, error) {
	code := language.Normalize(lang)
	scenarioLine := "The conversation is a free chat."
	if scenario != "" {
		scenarioLine = fmt.Sprintf("The conversation is a roleplay: %s.", scenario)
	}

	msg, err := s.suggest.Invoke(ctx, map[string]any{
		"language": code.DisplayName(),
		"scenario": scenarioLine,
		"query":    "What could I say next?",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run suggestion chain: %w", err)
	}

	return parseSuggestions(msg.Content)
}

type suggestionPayload struct {
	Suggestions []string `json:"suggestions"`
}

// parseSuggestions 从模型输出中提取 JSON 对象
func parseSuggestions(content string) ([]string, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	var payload suggestionPayload
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil {
		return nil, err
	}

	out := make([]string, 0, maxSuggestions)
	for _, s := range payload.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
		if len(out) == maxSuggestions {
			break
		}
	}
	return out, nil
}
