package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/z-tavern/companion/internal/language"
	"github.com/zhouzirui/z-tavern/companion/internal/service/voice"
)

type fakeHandle struct {
	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	stopped bool
	err     error
}

func newFakeHandle() *fakeHandle { return &fakeHandle{done: make(chan struct{})} }

// failedHandle 已因 err 结束，类似播放器遇到无法解码的输入后退出
func failedHandle(err error) *fakeHandle {
	h := &fakeHandle{done: make(chan struct{}), err: err}
	h.finish()
	return h
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
func (h *fakeHandle) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.finish()
}
func (h *fakeHandle) finish() { h.once.Do(func() { close(h.done) }) }
func (h *fakeHandle) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

type fakeBackend struct {
	mu       sync.Mutex
	checkErr error
	ttsURL   string
	ttsErr   error
	ttsBlock chan struct{}
	ttsStart chan struct{}
	checked  []string
	ttsCalls int
}

func (b *fakeBackend) CheckAudio(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checked = append(b.checked, ref)
	return b.checkErr
}

func (b *fakeBackend) SynthesizeAudio(ctx context.Context, _ string, _ language.Code) (string, error) {
	b.mu.Lock()
	b.ttsCalls++
	block, start := b.ttsBlock, b.ttsStart
	b.mu.Unlock()
	if start != nil {
		start <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return b.ttsURL, b.ttsErr
}

type fakeEngine struct {
	mu      sync.Mutex
	played  []string
	handles []*fakeHandle
	err     error
	// playErrs[i] 让第 i 个启动的句柄立即以该错误结束
	playErrs []error
}

func (e *fakeEngine) Play(_ context.Context, url string) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	h := newFakeHandle()
	if i := len(e.handles); i < len(e.playErrs) && e.playErrs[i] != nil {
		h = failedHandle(e.playErrs[i])
	}
	e.played = append(e.played, url)
	e.handles = append(e.handles, h)
	return h, nil
}

type fakeSynth struct {
	mu      sync.Mutex
	voices  []voice.Voice
	spoken  []Utterance
	handles []*fakeHandle
	err     error
	spoke   chan Utterance
}

func (s *fakeSynth) Voices(context.Context) ([]voice.Voice, error) { return s.voices, nil }

func (s *fakeSynth) Speak(_ context.Context, _ string, u Utterance) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.spoken = append(s.spoken, u)
	h := newFakeHandle()
	s.handles = append(s.handles, h)
	if s.spoke != nil {
		s.spoke <- u
	}
	return h, nil
}

func TestPlaySameKeyTwiceToggles(t *testing.T) {
	engine := &fakeEngine{}
	p := NewPlayer(&fakeBackend{}, engine, nil)
	req := Request{Key: KeyForTurn(0), Text: "Hi there!", Language: language.English, AudioRef: "http://backend/audio/123.mp3"}

	out, err := p.Play(context.Background(), req)
	if err != nil || out != OutcomeCached {
		t.Fatalf("first Play = %v, %v", out, err)
	}
	if p.ActiveKey() != "message-0" {
		t.Fatalf("active key = %q", p.ActiveKey())
	}

	out, err = p.Play(context.Background(), req)
	if err != nil || out != OutcomeStopped {
		t.Fatalf("second Play = %v, %v", out, err)
	}
	if p.ActiveKey() != "" {
		t.Fatalf("active key after toggle = %q", p.ActiveKey())
	}
	if len(engine.handles) != 1 || !engine.handles[0].isStopped() {
		t.Fatal("toggle must stop the single live handle")
	}
}

func TestPlayOtherKeyStopsPrevious(t *testing.T) {
	engine := &fakeEngine{}
	p := NewPlayer(&fakeBackend{ttsURL: "http://backend/audio/gen.mp3"}, engine, nil)

	p.Play(context.Background(), Request{Key: KeyForTurn(0), Text: "one", Language: language.English})
	p.Play(context.Background(), Request{Key: KeyForTurn(1), Text: "two", Language: language.English})

	if !engine.handles[0].isStopped() {
		t.Fatal("previous handle must be stopped before the next starts")
	}
	if p.ActiveKey() != "message-1" {
		t.Fatalf("active key = %q", p.ActiveKey())
	}
}

func TestFallbackCachedMissThenBackendFailureThenSynthesis(t *testing.T) {
	backend := &fakeBackend{checkErr: errors.New("404"), ttsErr: errors.New("503")}
	engine := &fakeEngine{}
	synth := &fakeSynth{voices: []voice.Voice{{Name: "Kyoko", Lang: "ja-JP"}}}
	p := NewPlayer(backend, engine, synth)

	out, err := p.Play(context.Background(), Request{Key: "message-1", Text: "こんにちは", Language: language.Japanese, AudioRef: "/audio/missing.mp3"})
	if err != nil || out != OutcomeSynthesis {
		t.Fatalf("Play = %v, %v", out, err)
	}
	if len(backend.checked) != 1 || backend.ttsCalls != 1 {
		t.Fatalf("checked=%d tts=%d", len(backend.checked), backend.ttsCalls)
	}
	if len(engine.played) != 0 {
		t.Fatal("engine must not play after both remote tiers fail")
	}
	u := synth.spoken[0]
	if u.Voice.Name != "Kyoko" || u.Locale != "ja-JP" || u.Rate != 0.85 {
		t.Fatalf("unexpected utterance %+v", u)
	}
	if p.ActiveKey() != "message-1" {
		t.Fatalf("active key = %q", p.ActiveKey())
	}
}

func TestFallbackEngineFailureFallsThrough(t *testing.T) {
	backend := &fakeBackend{ttsURL: "http://backend/audio/gen.mp3"}
	engine := &fakeEngine{err: errors.New("decoder missing")}
	synth := &fakeSynth{voices: []voice.Voice{{Name: "Daniel", Lang: "en-GB"}}}
	p := NewPlayer(backend, engine, synth)

	out, err := p.Play(context.Background(), Request{Key: "k", Text: "hi", Language: language.English, AudioRef: "http://backend/audio/1.mp3"})
	if err != nil || out != OutcomeSynthesis {
		t.Fatalf("Play = %v, %v", out, err)
	}
}

func TestNoVoicesSurfacesNoticeOnce(t *testing.T) {
	backend := &fakeBackend{checkErr: errors.New("404"), ttsErr: errors.New("503")}
	var notices []string
	p := NewPlayer(backend, &fakeEngine{}, &fakeSynth{}, WithOnNotice(func(m string) { notices = append(notices, m) }))

	for i := 0; i < 3; i++ {
		_, err := p.Play(context.Background(), Request{Key: KeyForTurn(i), Text: "hi", Language: language.English, AudioRef: "/audio/x.mp3"})
		if !errors.Is(err, ErrNoVoices) {
			t.Fatalf("Play err = %v", err)
		}
		if p.ActiveKey() != "" {
			t.Fatalf("active key = %q", p.ActiveKey())
		}
	}
	if len(notices) != 1 || notices[0] != NoVoicesNotice {
		t.Fatalf("notices = %v", notices)
	}
}

func TestSynthesisFailureResetsToIdle(t *testing.T) {
	synth := &fakeSynth{voices: []voice.Voice{{Name: "Daniel", Lang: "en-GB"}}, err: errors.New("espeak crashed")}
	p := NewPlayer(nil, nil, synth)

	if _, err := p.Play(context.Background(), Request{Key: "k", Text: "hi", Language: language.English}); !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("Play err = %v", err)
	}
	if p.ActiveKey() != "" {
		t.Fatal("slot must be idle after terminal failure")
	}
}

func TestStopDuringBackendFetchDiscardsLateResult(t *testing.T) {
	backend := &fakeBackend{
		ttsURL:   "http://backend/audio/late.mp3",
		ttsBlock: make(chan struct{}),
		ttsStart: make(chan struct{}, 1),
	}
	engine := &fakeEngine{}
	synth := &fakeSynth{voices: []voice.Voice{{Name: "Daniel", Lang: "en-GB"}}}
	p := NewPlayer(backend, engine, synth)

	result := make(chan Outcome)
	go func() {
		out, _ := p.Play(context.Background(), Request{Key: "message-0", Text: "hi", Language: language.English})
		result <- out
	}()
	<-backend.ttsStart

	p.Stop()
	if p.ActiveKey() != "" {
		t.Fatal("Stop must leave the slot idle synchronously")
	}
	close(backend.ttsBlock)

	if out := <-result; out != OutcomeSuperseded {
		t.Fatalf("late attempt outcome = %v", out)
	}
	if len(engine.played) != 0 || len(synth.spoken) != 0 {
		t.Fatal("no phantom playback may start after Stop")
	}
	if p.ActiveKey() != "" {
		t.Fatalf("active key = %q", p.ActiveKey())
	}
}

func TestNaturalEndClearsSlot(t *testing.T) {
	engine := &fakeEngine{}
	changes := make(chan string, 4)
	p := NewPlayer(&fakeBackend{}, engine, nil, WithOnChange(func(k string) { changes <- k }))

	p.Play(context.Background(), Request{Key: "message-2", AudioRef: "http://backend/a.mp3"})
	if got := <-changes; got != "message-2" {
		t.Fatalf("first change = %q", got)
	}

	engine.handles[0].finish()
	if got := <-changes; got != "" {
		t.Fatalf("change after end = %q", got)
	}
	if p.ActiveKey() != "" {
		t.Fatalf("active key = %q", p.ActiveKey())
	}
}

func TestBackendAudioFailingAfterStartFallsToSynthesis(t *testing.T) {
	backend := &fakeBackend{ttsURL: "http://backend/audio/gen.mp3"}
	engine := &fakeEngine{playErrs: []error{errors.New("ffplay: exit status 1: Invalid data found when processing input")}}
	synth := &fakeSynth{voices: []voice.Voice{{Name: "Daniel", Lang: "en-GB"}}, spoke: make(chan Utterance, 1)}
	p := NewPlayer(backend, engine, synth)

	out, err := p.Play(context.Background(), Request{Key: "message-1", Text: "Hi there!", Language: language.English})
	if err != nil || out != OutcomeBackend {
		t.Fatalf("Play = %v, %v", out, err)
	}

	select {
	case u := <-synth.spoke:
		if u.Voice.Name != "Daniel" {
			t.Fatalf("unexpected utterance %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("local synthesis was not tried after the backend audio failed")
	}
	if p.ActiveKey() != "message-1" {
		t.Fatalf("active key = %q", p.ActiveKey())
	}
}

func TestCachedAudioFailingAfterStartFallsToBackend(t *testing.T) {
	backend := &fakeBackend{ttsURL: "http://backend/audio/gen.mp3"}
	engine := &fakeEngine{playErrs: []error{errors.New("exit status 1")}}
	changes := make(chan string, 8)
	p := NewPlayer(backend, engine, nil, WithOnChange(func(k string) { changes <- k }))

	out, err := p.Play(context.Background(), Request{Key: "message-0", Text: "Hi", Language: language.English, AudioRef: "http://backend/audio/old.mp3"})
	if err != nil || out != OutcomeCached {
		t.Fatalf("Play = %v, %v", out, err)
	}

	deadline := time.After(2 * time.Second)
	for {
		engine.mu.Lock()
		played := append([]string(nil), engine.played...)
		engine.mu.Unlock()
		if len(played) == 2 {
			if played[1] != "http://backend/audio/gen.mp3" {
				t.Fatalf("second play = %q", played[1])
			}
			break
		}
		select {
		case <-changes:
		case <-deadline:
			t.Fatalf("backend tier was not tried, played=%v", played)
		}
	}
	if p.ActiveKey() != "message-0" {
		t.Fatalf("active key = %q", p.ActiveKey())
	}
}

func TestFailureAfterStartWithNoFurtherTierGoesIdle(t *testing.T) {
	engine := &fakeEngine{playErrs: []error{errors.New("exit status 1")}}
	changes := make(chan string, 8)
	p := NewPlayer(&fakeBackend{ttsErr: errors.New("503")}, engine, nil, WithOnChange(func(k string) { changes <- k }))

	p.Play(context.Background(), Request{Key: "message-3", AudioRef: "http://backend/a.mp3"})

	deadline := time.After(2 * time.Second)
	for p.ActiveKey() != "" {
		select {
		case <-changes:
		case <-deadline:
			t.Fatalf("slot still held by %q", p.ActiveKey())
		}
	}
}

func TestGeneratedAudioIsReported(t *testing.T) {
	var got []string
	p := NewPlayer(&fakeBackend{ttsURL: "http://backend/audio/gen.mp3"}, &fakeEngine{}, nil,
		WithOnGenerated(func(req Request, url string) { got = append(got, req.Key+"="+url) }))

	if _, err := p.Play(context.Background(), Request{Key: "message-4", Text: "hi", Language: language.English}); err != nil {
		t.Fatalf("Play err: %v", err)
	}
	if len(got) != 1 || got[0] != "message-4=http://backend/audio/gen.mp3" {
		t.Fatalf("generated = %v", got)
	}
}

func TestKeyTurn(t *testing.T) {
	tests := []struct {
		key  string
		want int
		ok   bool
	}{
		{key: KeyForTurn(7), want: 7, ok: true},
		{key: "message-x", ok: false},
		{key: "suggestion-1", ok: false},
		{key: "message--1", ok: false},
	}
	for _, tt := range tests {
		got, ok := KeyTurn(tt.key)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("KeyTurn(%q) = %d, %v", tt.key, got, ok)
		}
	}
}
