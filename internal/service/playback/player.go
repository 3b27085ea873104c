package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/zhouzirui/z-tavern/companion/internal/language"
	"github.com/zhouzirui/z-tavern/companion/internal/metrics"
	"github.com/zhouzirui/z-tavern/companion/internal/service/voice"
)

var (
	// ErrNoVoices 本地合成没有可用声音
	ErrNoVoices = errors.New("speech synthesis unavailable: no voices installed")
	// ErrSynthesisFailed 最后一级合成失败
	ErrSynthesisFailed = errors.New("speech synthesis failed")
)

// NoVoicesNotice 本地合成不可用时每个播放器只提示一次
const NoVoicesNotice = "Speech playback is unavailable: no text-to-speech voices are installed on this device."

// Outcome 一次 Play 调用的结果
type Outcome string

const (
	OutcomeCached    Outcome = "cached"
	OutcomeBackend   Outcome = "backend"
	OutcomeSynthesis Outcome = "synthesis"
	// OutcomeStopped 该 key 正在播放，本次 Play 将其停止
	OutcomeStopped Outcome = "stopped"
	// OutcomeSuperseded 出声之前被 Stop 或另一次 Play 取代
	OutcomeSuperseded Outcome = "superseded"
)

// Request 描述要播放的内容
type Request struct {
	Key      string
	Text     string
	Language language.Code
	AudioRef string
}

// KeyForTurn 返回对话消息的播放 key
func KeyForTurn(index int) string {
	return fmt.Sprintf("message-%d", index)
}

// Player 管理页面唯一的播放位，同一时间最多一个播放句柄
type Player struct {
	backend Backend
	engine  Engine
	synth   Synthesizer

	onChange    func(activeKey string)
	onNotice    func(message string)
	onGenerated func(req Request, url string)
	notice      sync.Once

	mu         sync.Mutex
	gen        uint64
	activeKey  string
	pendingKey string
	handle     Handle
	cancel     context.CancelFunc
}

// Option 自定义 Player
type Option func(*Player)

// WithOnChange 注册 activeKey 变化回调，空闲时为 ""
func WithOnChange(fn func(string)) Option {
	return func(p *Player) { p.onChange = fn }
}

// WithOnNotice 注册能力缺失提示回调
func WithOnNotice(fn func(string)) Option {
	return func(p *Player) { p.onNotice = fn }
}

// WithOnGenerated 注册后端生成音频开始播放时的回调，调用方可复用该地址
func WithOnGenerated(fn func(Request, string)) Option {
	return func(p *Player) { p.onGenerated = fn }
}

// KeyTurn 是 KeyForTurn 的逆运算
func KeyTurn(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, "message-")
	if !ok {
		return 0, false
	}
	index, err := strconv.Atoi(rest)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

// NewPlayer 创建 Player，backend、engine、synth 为空时禁用对应层级
func NewPlayer(backend Backend, engine Engine, synth Synthesizer, opts ...Option) *Player {
	p := &Player{backend: backend, engine: engine, synth: synth}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ActiveKey 返回正在播放的 key，空闲时为 ""
func (p *Player) ActiveKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeKey
}

// Play 按降级链播放: 预生成音频、后端生成音频、本地合成。
// 再次播放正在播放或正在启动的 key 会将其停止
func (p *Player) Play(ctx context.Context, req Request) (Outcome, error) {
	p.mu.Lock()
	if req.Key != "" && (p.activeKey == req.Key || p.pendingKey == req.Key) {
		wasActive := p.stopLocked()
		p.mu.Unlock()
		if wasActive {
			p.changed("")
		}
		return OutcomeStopped, nil
	}
	wasActive := p.stopLocked()
	p.gen++
	gen := p.gen
	p.pendingKey = req.Key
	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.mu.Unlock()

	if wasActive {
		p.changed("")
	}

	return p.run(attemptCtx, gen, req, tierCached)
}

// tier 降级链中的层级
type tier int

const (
	tierCached tier = iota
	tierBackend
	tierSynthesis
)

func (t tier) String() string {
	switch t {
	case tierCached:
		return "cached"
	case tierBackend:
		return "backend"
	default:
		return "synthesis"
	}
}

// run 从 from 层级开始执行降级链，由 Play 调用，
// 已开始的播放在停止前出错时由 watch 再次进入
func (p *Player) run(ctx context.Context, gen uint64, req Request, from tier) (Outcome, error) {
	if from <= tierCached && req.AudioRef != "" && p.backend != nil && p.engine != nil {
		if p.tryURL(ctx, gen, req, tierCached, req.AudioRef, true) {
			return OutcomeCached, nil
		}
		if p.superseded(gen) {
			return OutcomeSuperseded, nil
		}
	}

	if from <= tierBackend && p.backend != nil && p.engine != nil {
		url, err := p.backend.SynthesizeAudio(ctx, req.Text, req.Language)
		if err != nil {
			metrics.PlaybackAttempts.WithLabelValues(tierBackend.String(), "error").Inc()
			log.Printf("[playback] backend tts failed key=%s: %v", req.Key, err)
		} else if p.tryURL(ctx, gen, req, tierBackend, url, false) {
			if p.onGenerated != nil {
				p.onGenerated(req, url)
			}
			return OutcomeBackend, nil
		}
		if p.superseded(gen) {
			return OutcomeSuperseded, nil
		}
	}

	return p.synthesize(ctx, gen, req)
}

func (p *Player) tryURL(ctx context.Context, gen uint64, req Request, t tier, url string, check bool) bool {
	if check {
		if err := p.backend.CheckAudio(ctx, url); err != nil {
			metrics.PlaybackAttempts.WithLabelValues(t.String(), "check_failed").Inc()
			log.Printf("[playback] %s audio unavailable key=%s: %v", t, req.Key, err)
			return false
		}
	}
	if p.superseded(gen) {
		return false
	}

	h, err := p.engine.Play(ctx, url)
	if err != nil {
		metrics.PlaybackAttempts.WithLabelValues(t.String(), "error").Inc()
		log.Printf("[playback] %s play failed key=%s: %v", t, req.Key, err)
		return false
	}
	next := func() {
		if out, err := p.run(ctx, gen, req, t+1); err != nil {
			log.Printf("[playback] fallback after %s failed key=%s: %v", t, req.Key, err)
		} else {
			log.Printf("[playback] fallback after %s key=%s outcome=%s", t, req.Key, out)
		}
	}
	if !p.adopt(gen, req.Key, t, h, next) {
		return false
	}
	metrics.PlaybackAttempts.WithLabelValues(t.String(), "ok").Inc()
	return true
}

func (p *Player) synthesize(ctx context.Context, gen uint64, req Request) (Outcome, error) {
	if p.synth == nil {
		p.abandon(gen)
		p.noticeNoVoices()
		return "", ErrNoVoices
	}

	voices, err := p.synth.Voices(ctx)
	if err != nil {
		log.Printf("[playback] listing voices failed: %v", err)
	}
	selected := voice.SelectVoice(req.Language, voices)
	if selected == nil {
		p.abandon(gen)
		metrics.PlaybackAttempts.WithLabelValues("synthesis", "no_voices").Inc()
		p.noticeNoVoices()
		return "", ErrNoVoices
	}
	if p.superseded(gen) {
		return OutcomeSuperseded, nil
	}

	profile := voice.ProfileFor(req.Language)
	h, err := p.synth.Speak(ctx, req.Text, Utterance{
		Voice:  *selected,
		Locale: profile.Locale,
		Rate:   profile.Rate,
		Pitch:  profile.Pitch,
	})
	if err != nil {
		p.abandon(gen)
		metrics.PlaybackAttempts.WithLabelValues("synthesis", "error").Inc()
		log.Printf("[playback] synthesis failed key=%s voice=%s: %v", req.Key, selected.Name, err)
		return "", fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	if !p.adopt(gen, req.Key, tierSynthesis, h, nil) {
		return OutcomeSuperseded, nil
	}
	metrics.PlaybackAttempts.WithLabelValues("synthesis", "ok").Inc()
	return OutcomeSynthesis, nil
}

// adopt 将 h 设为当前句柄，本次尝试已被取代时停止 h。
// h 出错时由 next 继续降级
func (p *Player) adopt(gen uint64, key string, t tier, h Handle, next func()) bool {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		h.Stop()
		log.Printf("[playback] discarded late playback key=%s", key)
		return false
	}
	p.activeKey = key
	p.pendingKey = ""
	p.handle = h
	p.mu.Unlock()

	p.changed(key)
	go p.watch(gen, t, h, next)
	return true
}

// watch 在 h 结束时释放播放位，仍为当前句柄且出错时交给下一层级
func (p *Player) watch(gen uint64, t tier, h Handle, next func()) {
	<-h.Done()
	err := h.Err()

	p.mu.Lock()
	if p.gen != gen || p.handle != h {
		p.mu.Unlock()
		return
	}
	p.handle = nil
	if err != nil && next != nil {
		p.mu.Unlock()
		metrics.PlaybackAttempts.WithLabelValues(t.String(), "failed_after_start").Inc()
		log.Printf("[playback] %s playback failed key=%s, trying next tier: %v", t, p.ActiveKey(), err)
		next()
		return
	}
	p.activeKey = ""
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	if err != nil {
		log.Printf("[playback] playback ended with error: %v", err)
	}
	p.changed("")
}

// abandon 最后一级失败后释放播放位
func (p *Player) abandon(gen uint64) {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	wasActive := p.activeKey != ""
	p.activeKey = ""
	p.pendingKey = ""
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	if wasActive {
		p.changed("")
	}
}

func (p *Player) superseded(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen != gen
}

// Stop 结束播放并取消仍在进行的尝试，返回时播放位已空闲
func (p *Player) Stop() {
	p.mu.Lock()
	wasActive := p.stopLocked()
	p.mu.Unlock()

	if wasActive {
		p.changed("")
	}
}

// stopLocked 释放句柄并使进行中的尝试失效，返回之前是否有 key 在播放
func (p *Player) stopLocked() bool {
	p.gen++
	wasActive := p.activeKey != ""
	if p.handle != nil {
		p.handle.Stop()
		p.handle = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.activeKey = ""
	p.pendingKey = ""
	return wasActive
}

func (p *Player) changed(key string) {
	if p.onChange != nil {
		p.onChange(key)
	}
}

func (p *Player) noticeNoVoices() {
	p.notice.Do(func() {
		log.Printf("[playback] %s", NoVoicesNotice)
		if p.onNotice != nil {
			p.onNotice(NoVoicesNotice)
		}
	})
}
