package listen

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/z-tavern/companion/internal/language"
	"github.com/zhouzirui/z-tavern/companion/internal/metrics"
)

var (
	ErrUnsupported = errors.New("speech recognition is not supported on this device")
	ErrInactive    = errors.New("no speech detected")
	ErrBusy        = errors.New("already listening")
)

// DefaultTimeout 识别超时未产生最终结果时关闭麦克风
const DefaultTimeout = 10 * time.Second

// UnsupportedNotice 没有可用识别器时每个 Listener 只提示一次
const UnsupportedNotice = "Speech recognition is not available on this device. Please type your message instead."

// Result 一次识别事件
type Result struct {
	Transcript string
	Final      bool
	Err        error
}

// Recognizer 为一次收听推送识别结果，直到 ctx 取消或通道关闭
type Recognizer interface {
	Start(ctx context.Context, locale string) (<-chan Result, error)
}

// Listener 同一时间只运行一次识别，并受超时约束
type Listener struct {
	recognizer Recognizer
	timeout    time.Duration
	onNotice   func(string)
	notice     sync.Once

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewListener 创建 Listener，recognizer 为空时 Listen 总是返回 ErrUnsupported
func NewListener(recognizer Recognizer, timeout time.Duration, onNotice func(string)) *Listener {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Listener{recognizer: recognizer, timeout: timeout, onNotice: onNotice}
}

// Listen 录制一句 lang 语言的话并返回识别文本。超时先到时取消识别，
// 有中间结果则返回最近的中间结果，否则返回 ErrInactive
func (l *Listener) Listen(ctx context.Context, lang language.Code) (string, error) {
	if l.recognizer == nil {
		l.notice.Do(func() {
			if l.onNotice != nil {
				l.onNotice(UnsupportedNotice)
			}
		})
		metrics.ListenSessions.WithLabelValues("unsupported").Inc()
		return "", ErrUnsupported
	}

	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return "", ErrBusy
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	defer func() {
		cancel()
		l.mu.Lock()
		l.cancel = nil
		l.mu.Unlock()
	}()

	results, err := l.recognizer.Start(sessionCtx, lang.SpeechLocale())
	if err != nil {
		metrics.ListenSessions.WithLabelValues("error").Inc()
		return "", err
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	var interim string
	for {
		select {
		case <-timer.C:
			log.Printf("[listen] timeout after %s locale=%s", l.timeout, lang.SpeechLocale())
			return finish(interim, ErrInactive, "timeout")
		case <-sessionCtx.Done():
			return finish(interim, sessionCtx.Err(), "canceled")
		case r, ok := <-results:
			if !ok {
				return finish(interim, ErrInactive, "ended")
			}
			if r.Err != nil {
				metrics.ListenSessions.WithLabelValues("error").Inc()
				return "", r.Err
			}
			text := strings.TrimSpace(r.Transcript)
			if text == "" {
				continue
			}
			if r.Final {
				metrics.ListenSessions.WithLabelValues("ok").Inc()
				return text, nil
			}
			interim = text
		}
	}
}

func finish(interim string, err error, outcome string) (string, error) {
	if interim != "" {
		metrics.ListenSessions.WithLabelValues("interim").Inc()
		return interim, nil
	}
	metrics.ListenSessions.WithLabelValues(outcome).Inc()
	return "", err
}

// Stop 结束正在进行的识别
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}
