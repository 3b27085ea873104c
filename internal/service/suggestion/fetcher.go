package suggestion

import (
	"context"
	"errors"
	"log"
)

// FallbackFetcher 依次请求每个 Fetcher，返回第一个成功的结果
type FallbackFetcher []Fetcher

func (f FallbackFetcher) Suggestions(ctx context.Context, username, language, scenario string) ([]string, error) {
	var errs []error
	for i, fetcher := range f {
		if fetcher == nil {
			continue
		}
		list, err := fetcher.Suggestions(ctx, username, language, scenario)
		if err == nil {
			return list, nil
		}
		if i < len(f)-1 {
			log.Printf("[suggestion] source %d failed, trying next: %v", i, err)
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.New("no suggestion source configured")
	}
	return nil, errors.Join(errs...)
}
