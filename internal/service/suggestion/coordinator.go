package suggestion

import (
	"context"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/zhouzirui/z-tavern/companion/internal/metrics"
)

// DefaultCooldown 上一次请求结束到下一次开始的最小间隔
const DefaultCooldown = 3 * time.Second

// State 协调器当前所处阶段
type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateCooldown State = "cooldown"
)

// Fetcher 从后端获取建议
type Fetcher interface {
	Suggestions(ctx context.Context, username, language, scenario string) ([]string, error)
}

// Request 描述一次触发
type Request struct {
	Username  string
	Language  string
	Scenario  string
	UserTurns int
	// Initial 标记欢迎语之后的首次请求，在用户发言前允许执行一次
	Initial bool
}

// Coordinator 保证同一时间最多一个建议请求，请求进行中或冷却期内的触发会被丢弃
type Coordinator struct {
	mu       sync.Mutex
	fetcher  Fetcher
	cooldown time.Duration
	now      func() time.Time
	onChange func([]string)

	inFlight      bool
	flightEpoch   uint64
	lastFetchedAt time.Time
	suggestions   []string
	bypassUsed    bool
	epoch         uint64

	// deferred 保存旧轮次请求进行中到达的触发，旧请求返回后重放
	deferred      *Request
	deferredEpoch uint64
}

// Option 自定义 Coordinator
type Option func(*Coordinator)

// WithCooldown 覆盖 DefaultCooldown
func WithCooldown(d time.Duration) Option {
	return func(c *Coordinator) { c.cooldown = d }
}

// WithClock 注入时间源
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithOnChange 注册建议列表变化时的回调
func WithOnChange(fn func([]string)) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

// NewCoordinator 基于 fetcher 创建 Coordinator
func NewCoordinator(fetcher Fetcher, opts ...Option) *Coordinator {
	c := &Coordinator{fetcher: fetcher, cooldown: DefaultCooldown, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger 在允许时发起请求并阻塞到完成，返回是否发起了请求。
// 失败只记录日志，列表保持不变
func (c *Coordinator) Trigger(ctx context.Context, req Request) bool {
	c.mu.Lock()
	if reason := c.admitLocked(req); reason != "" {
		c.mu.Unlock()
		metrics.SuggestionFetches.WithLabelValues(reason).Inc()
		return false
	}
	c.inFlight = true
	c.flightEpoch = c.epoch
	epoch := c.epoch
	c.mu.Unlock()

	list, err := c.fetcher.Suggestions(ctx, req.Username, req.Language, req.Scenario)

	c.mu.Lock()
	c.inFlight = false
	retry := c.takeDeferredLocked()
	if epoch != c.epoch {
		c.mu.Unlock()
		metrics.SuggestionFetches.WithLabelValues("stale").Inc()
		log.Printf("[suggestion] discarded result fetched before reset")
		if retry != nil {
			c.Trigger(ctx, *retry)
		}
		return true
	}
	c.lastFetchedAt = c.now()

	if err != nil {
		c.mu.Unlock()
		metrics.SuggestionFetches.WithLabelValues("error").Inc()
		log.Printf("[suggestion] fetch failed language=%s: %v", req.Language, err)
		return true
	}

	if slices.Equal(c.suggestions, list) {
		c.mu.Unlock()
		metrics.SuggestionFetches.WithLabelValues("unchanged").Inc()
		return true
	}
	c.suggestions = slices.Clone(list)
	notify := c.onChange
	snapshot := slices.Clone(list)
	c.mu.Unlock()

	metrics.SuggestionFetches.WithLabelValues("updated").Inc()
	if notify != nil {
		notify(snapshot)
	}
	return true
}

func (c *Coordinator) admitLocked(req Request) string {
	if c.inFlight {
		if c.flightEpoch != c.epoch {
			deferred := req
			c.deferred = &deferred
			c.deferredEpoch = c.epoch
			return "deferred"
		}
		return "dropped_in_flight"
	}
	if !c.lastFetchedAt.IsZero() && c.now().Sub(c.lastFetchedAt) < c.cooldown {
		return "dropped_cooldown"
	}
	if req.UserTurns == 0 {
		if !req.Initial || c.bypassUsed {
			return "dropped_no_context"
		}
		c.bypassUsed = true
	}
	return ""
}

func (c *Coordinator) takeDeferredLocked() *Request {
	req := c.deferred
	c.deferred = nil
	if req == nil || c.deferredEpoch != c.epoch {
		return nil
	}
	return req
}

// Suggestions 返回当前建议列表
func (c *Coordinator) Suggestions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.suggestions)
}

// State 返回当前阶段
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.inFlight:
		return StateFetching
	case !c.lastFetchedAt.IsZero() && c.now().Sub(c.lastFetchedAt) < c.cooldown:
		return StateCooldown
	default:
		return StateIdle
	}
}

// Reset 在用户发送新消息时清空列表，进行中的请求结果将被丢弃
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.epoch++
	cleared := len(c.suggestions) > 0
	c.suggestions = nil
	notify := c.onChange
	c.mu.Unlock()

	if cleared && notify != nil {
		notify(nil)
	}
}

// Restart 清空列表并重置冷却和首次请求豁免，用于切换语言后重新开始对话
func (c *Coordinator) Restart() {
	c.mu.Lock()
	c.lastFetchedAt = time.Time{}
	c.bypassUsed = false
	c.mu.Unlock()

	c.Reset()
}
