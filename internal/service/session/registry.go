package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/companion/internal/language"
	"github.com/zhouzirui/z-tavern/companion/internal/metrics"
	"github.com/zhouzirui/z-tavern/companion/internal/model/scenario"
	"github.com/zhouzirui/z-tavern/companion/internal/service/identity"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrScenarioNotFound = errors.New("scenario not found")
	ErrUsernameRequired = errors.New("username is required")
)

// CreateOptions 描述正在打开的页面
type CreateOptions struct {
	// TabID 决定批次ID的存储范围，重新打开标签页会继续其批次
	TabID      string
	ScenarioID string
	Username   string
	// Language 原始语言代码或名称，为空时使用用户偏好
	Language string
	// SkipWelcome 不写欢迎语，也不发起首次建议请求
	SkipWelcome bool
}

// Registry 管理进程内所有活动会话
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byTab     map[string]string
	scenarios scenario.Store
	deps      Deps
	settings  Settings
}

// NewRegistry 创建 Registry。deps.Storage 为空时使用所有会话共享的内存存储，
// 标签页重新打开后仍保留批次ID
func NewRegistry(scenarios scenario.Store, deps Deps, settings Settings) *Registry {
	if deps.Storage == nil {
		deps.Storage = identity.NewMemoryStorage()
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		byTab:     make(map[string]string),
		scenarios: scenarios,
		deps:      deps,
		settings:  settings,
	}
}

// Create 打开会话，同一标签页上已打开的会话会先关闭
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	username := strings.TrimSpace(opts.Username)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	scenarioID := opts.ScenarioID
	if scenarioID == "" {
		scenarioID = scenario.DefaultID
	}
	sc, ok := r.scenarios.FindByID(scenarioID)
	if !ok {
		return nil, ErrScenarioNotFound
	}
	tabID := strings.TrimSpace(opts.TabID)
	if tabID == "" {
		tabID = uuid.NewString()
	}

	r.mu.RLock()
	previous := r.sessions[r.byTab[tabID]]
	r.mu.RUnlock()
	if previous != nil {
		log.Printf("[session] tab %s reopened, closing %s", tabID, previous.ID())
		previous.Close(ctx)
	}

	lang := r.settings.DefaultLanguage
	if lang == "" {
		lang = language.English
	}

	s := newSession(sessionParams{
		id:          uuid.NewString(),
		tabID:       tabID,
		username:    username,
		scenario:    sc,
		skipWelcome: opts.SkipWelcome,
		language:    lang,
		settings:    r.settings,
		deps:        r.deps,
		onClose:     r.remove,
	})

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.byTab[tabID] = s.ID()
	r.mu.Unlock()
	metrics.SessionsActive.Inc()

	s.start(ctx, opts.Language)
	return s, nil
}

// Get 返回活动会话
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close 按页面关闭的方式结束会话
func (r *Registry) Close(ctx context.Context, id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.Close(ctx)
	return nil
}

// Len 返回活动会话数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown 关闭所有会话并等待关闭时的保存完成，或等到 ctx 结束
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()

	for _, s := range live {
		s.Close(ctx)
	}

	done := make(chan struct{})
	go func() {
		for _, s := range live {
			s.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		if r.byTab[s.tabID] == id {
			delete(r.byTab, s.tabID)
		}
	}
	r.mu.Unlock()
	if ok {
		metrics.SessionsActive.Dec()
	}
}
