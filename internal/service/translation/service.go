package translation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zhouzirui/z-tavern/companion/internal/language"
)

// ErrNotNeeded 文本已是目标语言
var ErrNotNeeded = errors.New("translation not needed")

// Translator 在两个规范语言代码之间翻译文本
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Service 将练习文本翻译为英文，先请求后端，再使用可选的兜底模型
type Service struct {
	primary  Translator
	fallback Translator
}

// NewService 创建 Service，fallback 可以为空
func NewService(primary, fallback Translator) *Service {
	return &Service{primary: primary, fallback: fallback}
}

// ToEnglish 将 source 语言的文本翻译为英文
func (s *Service) ToEnglish(ctx context.Context, text string, source language.Code) (string, error) {
	if source == language.English {
		return "", ErrNotNeeded
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNotNeeded
	}

	var errs []error
	for _, tr := range []Translator{s.primary, s.fallback} {
		if tr == nil {
			continue
		}
		out, err := tr.Translate(ctx, text, string(source), string(language.English))
		if err == nil && strings.TrimSpace(out) != "" {
			return strings.TrimSpace(out), nil
		}
		if err == nil {
			err = errors.New("empty translation")
		}
		log.Printf("[translation] %s->en failed: %v", source, err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", errors.New("no translator configured")
	}
	return "", fmt.Errorf("translate %s->en: %w", source, errors.Join(errs...))
}
