package session

import (
	"log"
	"sync"
	"time"
)

// EventType 会话中发生变化的类型
type EventType string

const (
	EventTurn        EventType = "turn"
	EventTranslation EventType = "translation"
	EventSuggestions EventType = "suggestions"
	EventPlayback    EventType = "playback"
	EventLanguage    EventType = "language"
	EventDecision    EventType = "decision"
	EventNotice      EventType = "notice"
	EventClosed      EventType = "closed"
)

// Event 推送给会话订阅者的事件
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Data      any       `json:"data,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

const subscriberBuffer = 64

// Bus 将会话事件分发给订阅者，慢订阅者会丢失事件而不阻塞会话
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

func newBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe 返回事件通道和取消订阅函数，
// 会话关闭时通道关闭
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *Bus) publish(sessionID string, typ EventType, data any) {
	evt := Event{Type: typ, SessionID: sessionID, Data: data, Timestamp: time.Now().UnixMilli()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			log.Printf("[session] subscriber %d lagging, dropped %s event for %s", id, typ, sessionID)
		}
	}
}

func (b *Bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
