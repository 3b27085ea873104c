package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/z-tavern/companion/internal/backend"
	"github.com/zhouzirui/z-tavern/companion/internal/language"
	model "github.com/zhouzirui/z-tavern/companion/internal/model/conversation"
	"github.com/zhouzirui/z-tavern/companion/internal/model/scenario"
	"github.com/zhouzirui/z-tavern/companion/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/companion/internal/service/identity"
	"github.com/zhouzirui/z-tavern/companion/internal/service/lifecycle"
	"github.com/zhouzirui/z-tavern/companion/internal/service/listen"
	"github.com/zhouzirui/z-tavern/companion/internal/service/playback"
	"github.com/zhouzirui/z-tavern/companion/internal/service/suggestion"
	"github.com/zhouzirui/z-tavern/companion/internal/service/translation"
)

var (
	ErrClosed             = errors.New("session closed")
	ErrEmptyMessage       = errors.New("message is empty")
	ErrSuggestionNotFound = errors.New("suggestion not found")
)

// Backend 会话直接调用的语言后端接口
type Backend interface {
	Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatResponse, error)
	SaveConversation(ctx context.Context, username, batchID string, entries []model.Entry) error
	ClearConversation(ctx context.Context, req backend.ClearRequest) error
	SetUserProfile(ctx context.Context, profile backend.Profile) error
	GetUserProfile(ctx context.Context, username string) (backend.Profile, bool, error)
	SetScenario(ctx context.Context, username, title, language, description string) error
}

// Translator 将练习文本翻译为英文
type Translator interface {
	ToEnglish(ctx context.Context, text string, source language.Code) (string, error)
}

// Settings 所有会话共享的时间参数
type Settings struct {
	// DefaultLanguage 页面和用户偏好都未指定语言时使用
	DefaultLanguage        language.Code
	SuggestionCooldown     time.Duration
	SuggestionDelay        time.Duration
	InitialSuggestionDelay time.Duration
	ListenTimeout          time.Duration
	TeardownTimeout        time.Duration
}

// Deps 组成会话的依赖，音频端口为空时禁用对应的播放层级或语音识别
type Deps struct {
	Backend     Backend
	Suggestions suggestion.Fetcher
	Translator  Translator
	Audio       playback.Backend
	Engine      playback.Engine
	Synthesizer playback.Synthesizer
	Recognizer  listen.Recognizer
	Storage     identity.Storage
}

// Exchange 一次 Send 的结果
type Exchange struct {
	UserIndex int        `json:"userIndex"`
	User      model.Turn `json:"user"`
	BotIndex  int        `json:"botIndex"`
	Bot       model.Turn `json:"bot"`
}

// TurnEvent EventTurn 的数据
type TurnEvent struct {
	Index int        `json:"index"`
	Turn  model.Turn `json:"turn"`
}

// TranslationEvent EventTranslation 的数据
type TranslationEvent struct {
	Target string `json:"target"` // "turn" 或 "suggestion"
	Index  int    `json:"index"`
	Text   string `json:"text"`
}

// Session 一个页面实例: 对话及其批次标识、建议、保存/丢弃决定、播放位和麦克风
type Session struct {
	id          string
	tabID       string
	username    string
	scenario    scenario.Scenario
	skipWelcome bool
	createdAt   time.Time
	settings    Settings
	backend     Backend
	translator  Translator

	ids      *identity.Manager
	turns    *conversation.Store
	suggest  *suggestion.Coordinator
	machine  *lifecycle.Machine
	player   *playback.Player
	listener *listen.Listener
	events   *Bus
	onClose  func(id string)

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	// sendMu 保证发送与保存、丢弃、切换语言的顺序
	sendMu sync.Mutex

	mu                     sync.Mutex
	lang                   language.Code
	conversationID         string
	convGen                uint64
	suggestionTranslations map[int]string
	suggestTimer           *time.Timer
	closed                 bool
}

type sessionParams struct {
	id          string
	tabID       string
	username    string
	scenario    scenario.Scenario
	skipWelcome bool
	language    language.Code
	settings    Settings
	deps        Deps
	onClose     func(id string)
}

func newSession(p sessionParams) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	storage := p.deps.Storage
	if storage == nil {
		storage = identity.NewMemoryStorage()
	}
	translator := p.deps.Translator
	if translator == nil {
		translator = translation.NewService(nil, nil)
	}

	s := &Session{
		id:                     p.id,
		tabID:                  p.tabID,
		username:               p.username,
		scenario:               p.scenario,
		skipWelcome:            p.skipWelcome,
		createdAt:              time.Now().UTC(),
		settings:               p.settings,
		backend:                p.deps.Backend,
		translator:             translator,
		ids:                    identity.NewManager(storage, p.tabID),
		turns:                  conversation.NewStore(),
		events:                 newBus(),
		onClose:                p.onClose,
		ctx:                    ctx,
		cancel:                 cancel,
		lang:                   p.language,
		suggestionTranslations: make(map[int]string),
	}

	coordinatorOpts := []suggestion.Option{suggestion.WithOnChange(s.onSuggestions)}
	if p.settings.SuggestionCooldown > 0 {
		coordinatorOpts = append(coordinatorOpts, suggestion.WithCooldown(p.settings.SuggestionCooldown))
	}
	fetcher := p.deps.Suggestions
	if fetcher == nil {
		fetcher = noSuggestions{}
	}
	s.suggest = suggestion.NewCoordinator(fetcher, coordinatorOpts...)

	s.player = playback.NewPlayer(p.deps.Audio, p.deps.Engine, p.deps.Synthesizer,
		playback.WithOnChange(func(key string) { s.events.publish(s.id, EventPlayback, map[string]string{"activeKey": key}) }),
		playback.WithOnNotice(s.notice),
		playback.WithOnGenerated(s.keepGeneratedAudio),
	)
	s.listener = listen.NewListener(p.deps.Recognizer, p.settings.ListenTimeout, s.notice)

	batch := s.ids.GetOrCreate()
	s.machine = lifecycle.NewMachine(persister{s: s}, batch.BatchID, p.settings.TeardownTimeout)
	return s
}

// start 确定语言并开启对话，优先级: rawLanguage、用户偏好、默认语言
func (s *Session) start(ctx context.Context, rawLanguage string) {
	lang := s.Language()
	if rawLanguage != "" {
		lang = language.Normalize(rawLanguage)
	} else if profile, ok, err := s.backend.GetUserProfile(ctx, s.username); err != nil {
		log.Printf("[session] profile lookup failed user=%s: %v", s.username, err)
	} else if ok {
		stored := profile.Language
		if stored == "" {
			stored = profile.Locale
		}
		lang = language.Normalize(stored)
	}

	s.mu.Lock()
	s.lang = lang
	s.mu.Unlock()

	if title := s.scenario.RoleplayTitle(); title != "" {
		if err := s.backend.SetScenario(ctx, s.username, title, string(lang), s.scenario.Description); err != nil {
			log.Printf("[session] set scenario failed session=%s: %v", s.id, err)
		}
	}

	log.Printf("[session] started id=%s tab=%s language=%s batch=%s", s.id, s.tabID, lang, s.BatchID())
	s.openConversation()
}

// openConversation 写入欢迎语并安排一次首次建议请求
func (s *Session) openConversation() {
	if s.skipWelcome {
		return
	}
	lang := s.Language()
	idx := s.turns.Append(model.Turn{Text: s.scenario.WelcomeFor(lang), Sender: model.SenderBot})
	s.publishTurn(idx)
	if lang != language.English {
		s.translateTurnAsync(idx)
	}
	s.scheduleSuggestions(s.settings.InitialSuggestionDelay, true)
}

// ID 返回页面会话ID
func (s *Session) ID() string { return s.id }

// Events 返回会话事件总线
func (s *Session) Events() *Bus { return s.events }

// Language 返回对话的规范语言
func (s *Session) Language() language.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// BatchID 返回当前批次ID，退出清除后为 ""
func (s *Session) BatchID() string {
	return s.ids.Current().BatchID
}

// Turn 返回指定下标的消息
func (s *Session) Turn(index int) (model.Turn, error) {
	return s.turns.Get(index)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Send 追加用户消息，等待机器人回复后追加回复。
// 调用后端之前用户消息已写入，失败时保留用户消息且不追加回复
func (s *Session) Send(ctx context.Context, text string) (Exchange, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Exchange{}, ErrEmptyMessage
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.isClosed() {
		return Exchange{}, ErrClosed
	}

	lang := s.Language()
	userTurn := model.Turn{Text: text, Sender: model.SenderUser}
	userIdx := s.turns.Append(userTurn)
	s.publishTurn(userIdx)
	s.suggest.Reset()
	s.syncProfile(ctx, lang)

	s.mu.Lock()
	var conversationID *string
	if s.conversationID != "" {
		id := s.conversationID
		conversationID = &id
	}
	s.mu.Unlock()

	resp, err := s.backend.Chat(ctx, backend.ChatRequest{
		Username:       s.username,
		Message:        text,
		Scenario:       s.scenario.RoleplayTitle(),
		Language:       string(lang),
		UserLocale:     string(lang),
		ResponseLocale: string(lang),
		VoiceLocale:    string(lang),
		ConversationID: conversationID,
		SaveToHistory:  true,
		IsDiscarded:    false,
		BatchID:        s.BatchID(),
	})
	exchange := Exchange{UserIndex: userIdx, BotIndex: -1}
	exchange.User, _ = s.turns.Get(userIdx)
	if err != nil {
		log.Printf("[session] chat failed session=%s: %v", s.id, err)
		return exchange, fmt.Errorf("chat: %w", err)
	}

	s.mu.Lock()
	if resp.ConversationID != "" {
		s.conversationID = resp.ConversationID
	}
	s.mu.Unlock()

	botIdx := s.turns.Append(model.Turn{Text: resp.Text(), Sender: model.SenderBot, AudioRef: resp.AudioURL})
	s.publishTurn(botIdx)
	if lang != language.English {
		s.translateTurnAsync(botIdx)
	}
	s.scheduleSuggestions(s.settings.SuggestionDelay, false)

	exchange.BotIndex = botIdx
	exchange.Bot, _ = s.turns.Get(botIdx)
	return exchange, nil
}

func (s *Session) syncProfile(ctx context.Context, lang language.Code) {
	err := s.backend.SetUserProfile(ctx, backend.Profile{
		Username:     s.username,
		Language:     string(lang),
		Locale:       string(lang),
		LanguageName: lang.DisplayName(),
	})
	if err != nil {
		log.Printf("[session] profile sync failed user=%s: %v", s.username, err)
	}
}

// scheduleSuggestions 对下一次建议触发做防抖
func (s *Session) scheduleSuggestions(delay time.Duration, initial bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.suggestTimer != nil && s.suggestTimer.Stop() {
		s.bg.Done()
	}
	s.bg.Add(1)
	s.suggestTimer = time.AfterFunc(delay, func() {
		defer s.bg.Done()
		s.triggerSuggestions(s.ctx, initial)
	})
}

func (s *Session) triggerSuggestions(ctx context.Context, initial bool) bool {
	if s.isClosed() {
		return false
	}
	return s.suggest.Trigger(ctx, suggestion.Request{
		Username:  s.username,
		Language:  string(s.Language()),
		Scenario:  s.scenario.RoleplayTitle(),
		UserTurns: s.turns.CountBySender(model.SenderUser),
		Initial:   initial,
	})
}

// RefreshSuggestions 立即请求新建议，返回是否实际发起了请求
func (s *Session) RefreshSuggestions(ctx context.Context) (bool, error) {
	if s.isClosed() {
		return false, ErrClosed
	}
	return s.triggerSuggestions(ctx, false), nil
}

// Suggestions 返回当前建议列表
func (s *Session) Suggestions() []string {
	return s.suggest.Suggestions()
}

func (s *Session) onSuggestions(list []string) {
	s.mu.Lock()
	s.suggestionTranslations = make(map[int]string)
	s.mu.Unlock()
	s.events.publish(s.id, EventSuggestions, map[string]any{"suggestions": list})
}

func (s *Session) translateTurnAsync(index int) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if _, err := s.TranslateTurn(s.ctx, index); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[session] auto translation failed session=%s turn=%d: %v", s.id, index, err)
		}
	}()
}

// TranslateTurn 返回消息的英文翻译，首次使用时请求并保存
func (s *Session) TranslateTurn(ctx context.Context, index int) (string, error) {
	s.mu.Lock()
	gen, lang := s.convGen, s.lang
	s.mu.Unlock()

	turn, err := s.turns.Get(index)
	if err != nil {
		return "", err
	}
	if turn.Translation != "" {
		return turn.Translation, nil
	}

	text, err := s.translator.ToEnglish(ctx, turn.Text, lang)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	stale := gen != s.convGen
	if !stale {
		err = s.turns.AttachTranslation(index, text)
	}
	s.mu.Unlock()
	if stale {
		return "", fmt.Errorf("%w: conversation restarted", conversation.ErrTurnNotFound)
	}
	if err != nil {
		return "", err
	}

	s.events.publish(s.id, EventTranslation, TranslationEvent{Target: "turn", Index: index, Text: text})
	return text, nil
}

// TranslateSuggestion 返回建议的英文翻译
func (s *Session) TranslateSuggestion(ctx context.Context, index int) (string, error) {
	list := s.suggest.Suggestions()
	if index < 0 || index >= len(list) {
		return "", fmt.Errorf("%w: index %d of %d", ErrSuggestionNotFound, index, len(list))
	}
	source := list[index]

	s.mu.Lock()
	cached, ok := s.suggestionTranslations[index]
	lang := s.lang
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	text, err := s.translator.ToEnglish(ctx, source, lang)
	if err != nil {
		return "", err
	}

	// 翻译期间列表可能已被替换
	current := s.suggest.Suggestions()
	if index >= len(current) || current[index] != source {
		return text, nil
	}
	s.mu.Lock()
	s.suggestionTranslations[index] = text
	s.mu.Unlock()

	s.events.publish(s.id, EventTranslation, TranslationEvent{Target: "suggestion", Index: index, Text: text})
	return text, nil
}

// PlayTurn 按降级链播放消息，正在播放时则停止
func (s *Session) PlayTurn(ctx context.Context, index int) (playback.Outcome, error) {
	if s.isClosed() {
		return "", ErrClosed
	}
	turn, err := s.turns.Get(index)
	if err != nil {
		log.Printf("[session] play requested for missing turn session=%s index=%d", s.id, index)
		return "", err
	}
	return s.player.Play(ctx, playback.Request{
		Key:      playback.KeyForTurn(index),
		Text:     turn.Text,
		Language: s.Language(),
		AudioRef: turn.AudioRef,
	})
}

// keepGeneratedAudio 将后端生成的音频地址保存到对应消息，重播时直接走缓存层级
func (s *Session) keepGeneratedAudio(req playback.Request, url string) {
	index, ok := playback.KeyTurn(req.Key)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, err := s.turns.Get(index)
	if err != nil || turn.Text != req.Text || turn.AudioRef != "" {
		return
	}
	if err := s.turns.AttachAudioRef(index, url); err != nil {
		log.Printf("[session] keep generated audio failed session=%s turn=%d: %v", s.id, index, err)
	}
}

// StopPlayback 停止当前播放
func (s *Session) StopPlayback() {
	s.player.Stop()
}

// Listen 用会话语言录制一句话
func (s *Session) Listen(ctx context.Context) (string, error) {
	if s.isClosed() {
		return "", ErrClosed
	}
	return s.listener.Listen(ctx, s.Language())
}

// SetLanguage 切换语言并重新开始对话: 后端清除旧批次，新批次以新的欢迎语开始
func (s *Session) SetLanguage(ctx context.Context, raw string) (language.Code, error) {
	code := language.Normalize(raw)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.isClosed() {
		return "", ErrClosed
	}
	if code == s.Language() {
		return code, nil
	}

	s.player.Stop()
	s.machine.Discard(ctx, lifecycle.DiscardKeepSession)

	s.mu.Lock()
	s.lang = code
	s.mu.Unlock()
	s.syncProfile(ctx, code)

	log.Printf("[session] language changed session=%s language=%s", s.id, code)
	s.events.publish(s.id, EventLanguage, map[string]string{"language": string(code), "name": code.DisplayName()})
	s.restartConversation()
	return code, nil
}

// restartConversation 轮换批次并重新开启空对话
func (s *Session) restartConversation() {
	batch := s.ids.Rotate()
	s.machine.Reset(batch.BatchID)

	s.mu.Lock()
	s.convGen++
	s.turns.Reset()
	s.conversationID = ""
	s.suggestionTranslations = make(map[int]string)
	s.mu.Unlock()

	s.suggest.Restart()
	s.events.publish(s.id, EventDecision, map[string]string{"decision": string(s.machine.Decision()), "batchId": batch.BatchID})
	s.openConversation()
}

// Save 对应“保存并退出”。只有欢迎语时直接关闭不保存，
// 保存失败时会话保持打开以便用户重试
func (s *Session) Save(ctx context.Context) (lifecycle.Result, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.isClosed() {
		return lifecycle.ResultNoop, ErrClosed
	}

	if s.turns.Len() <= 1 {
		log.Printf("[session] nothing to save session=%s", s.id)
		s.ids.Clear()
		s.Close(ctx)
		return lifecycle.ResultSkipped, nil
	}

	res, err := s.machine.Save(ctx)
	s.events.publish(s.id, EventDecision, map[string]string{"decision": string(s.machine.Decision()), "batchId": s.machine.BatchID()})
	if err != nil {
		return res, err
	}

	s.ids.Clear()
	s.Close(ctx)
	return res, nil
}

// Discard 放弃当前批次。exit 为真时关闭会话并清除已存储的批次ID，
// 否则开始新的对话
func (s *Session) Discard(ctx context.Context, exit bool) (lifecycle.Result, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.isClosed() {
		return lifecycle.ResultNoop, ErrClosed
	}

	s.player.Stop()
	mode := lifecycle.DiscardKeepSession
	if exit {
		mode = lifecycle.DiscardExit
	}
	res := s.machine.Discard(ctx, mode)

	if exit {
		s.events.publish(s.id, EventDecision, map[string]string{"decision": string(s.machine.Decision()), "batchId": s.machine.BatchID()})
		s.ids.Clear()
		s.Close(ctx)
		return res, nil
	}

	s.restartConversation()
	return res, nil
}

// Close 关闭会话，未做决定且不止欢迎语的对话会在后台保存
func (s *Session) Close(ctx context.Context) lifecycle.Result {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return lifecycle.ResultNoop
	}
	s.closed = true
	if s.suggestTimer != nil && s.suggestTimer.Stop() {
		s.bg.Done()
	}
	s.mu.Unlock()

	s.cancel()
	s.player.Stop()
	s.listener.Stop()
	res := s.machine.Teardown(ctx, s.turns.Len())

	log.Printf("[session] closed id=%s teardown=%s", s.id, res)
	s.events.publish(s.id, EventClosed, map[string]string{"teardown": string(res)})
	s.events.close()
	if s.onClose != nil {
		s.onClose(s.id)
	}
	return res
}

// Wait 等待后台翻译、建议请求和关闭时的保存完成
func (s *Session) Wait() {
	s.bg.Wait()
	s.machine.Wait()
}

func (s *Session) publishTurn(index int) {
	turn, err := s.turns.Get(index)
	if err != nil {
		return
	}
	s.events.publish(s.id, EventTurn, TurnEvent{Index: index, Turn: turn})
}

func (s *Session) notice(message string) {
	s.events.publish(s.id, EventNotice, map[string]string{"message": message})
}

// persister 将生命周期提交绑定到本会话的消息记录和后端
type persister struct {
	s *Session
}

func (p persister) Persist(ctx context.Context, batchID string) error {
	return p.s.backend.SaveConversation(ctx, p.s.username, batchID, p.s.turns.Payload(batchID))
}

func (p persister) Abandon(ctx context.Context, batchID string, mode lifecycle.DiscardMode) error {
	req := backend.ClearRequest{Username: p.s.username, BatchID: batchID}
	if mode == lifecycle.DiscardExit {
		req.ForceClear = true
		req.IsDiscarded = true
	}
	return p.s.backend.ClearConversation(ctx, req)
}

type noSuggestions struct{}

func (noSuggestions) Suggestions(context.Context, string, string, string) ([]string, error) {
	return nil, errors.New("no suggestion source configured")
}
