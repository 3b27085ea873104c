package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	model "github.com/zhouzirui/z-tavern/companion/internal/model/conversation"
)

// ErrTurnNotFound 下标超出消息记录范围
var ErrTurnNotFound = errors.New("turn not found")

// Store 一段对话有序、只追加的消息记录
type Store struct {
	mu    sync.RWMutex
	turns []model.Turn
	now   func() time.Time
}

// NewStore 创建空的消息记录
func NewStore() *Store {
	return &Store{turns: make([]model.Turn, 0, 16), now: time.Now}
}

// Append 在末尾追加消息并返回下标
func (s *Store) Append(turn model.Turn) int {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return len(s.turns) - 1
}

// Get 返回指定下标的消息
func (s *Store) Get(index int) (model.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.turns) {
		return model.Turn{}, fmt.Errorf("%w: index %d of %d", ErrTurnNotFound, index, len(s.turns))
	}
	return s.turns[index], nil
}

// AttachTranslation 设置消息的翻译，覆盖之前的值
func (s *Store) AttachTranslation(index int, text string) error {
	return s.update(index, func(t *model.Turn) { t.Translation = text })
}

// AttachAudioRef 设置消息的音频地址，覆盖之前的值
func (s *Store) AttachAudioRef(index int, ref string) error {
	return s.update(index, func(t *model.Turn) { t.AudioRef = ref })
}

func (s *Store) update(index int, fn func(*model.Turn)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.turns) {
		return fmt.Errorf("%w: index %d of %d", ErrTurnNotFound, index, len(s.turns))
	}
	fn(&s.turns[index])
	return nil
}

// Len 返回消息数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// CountBySender 返回指定发送方的消息数量
func (s *Store) CountBySender(sender model.Sender) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.turns {
		if t.Sender == sender {
			n++
		}
	}
	return n
}

// Snapshot 返回消息记录的副本
func (s *Store) Snapshot() []model.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]model.Turn, len(s.turns))
	copy(copied, s.turns)
	return copied
}

// Reset 清空消息记录，用于对话重新开始
func (s *Store) Reset() {
	s.mu.Lock()
	s.turns = make([]model.Turn, 0, 16)
	s.mu.Unlock()
}

// Payload 序列化消息记录用于保存，每条记录写入 batchID
func (s *Store) Payload(batchID string) []model.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]model.Entry, 0, len(s.turns))
	for _, t := range s.turns {
		entries = append(entries, model.Entry{
			Sender:    t.Sender,
			Text:      t.Text,
			Timestamp: t.CreatedAt,
			BatchID:   batchID,
			Discarded: false,
			AudioRef:  t.AudioRef,
		})
	}
	return entries
}
