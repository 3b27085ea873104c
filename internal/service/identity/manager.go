package identity

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// StorageKey 当前批次ID的存储键
const StorageKey = "current_conversation_session"

var sequence atomic.Uint64

// Identity 批次ID，把一段对话归为一组用于保存和丢弃
type Identity struct {
	BatchID   string    `json:"batchId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manager 管理一个标签页的批次ID，是该存储位的唯一写入者
type Manager struct {
	mu      sync.Mutex
	storage Storage
	key     string
	now     func() time.Time
	current Identity
}

// NewManager 创建绑定到 tabID 存储位的 Manager
func NewManager(storage Storage, tabID string) *Manager {
	key := StorageKey
	if tabID != "" {
		key = StorageKey + ":" + tabID
	}
	return &Manager{storage: storage, key: key, now: time.Now}
}

// GetOrCreate 返回已存储的批次ID，为空时生成并保存
func (m *Manager) GetOrCreate() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.storage.Get(m.key); ok && stored != "" {
		if m.current.BatchID != stored {
			m.current = Identity{BatchID: stored, CreatedAt: createdAtOf(stored, m.now())}
		}
		return m.current
	}
	return m.generateLocked()
}

// Rotate 用新的批次ID替换已存储的ID
func (m *Manager) Rotate() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.storage.Delete(m.key)
	return m.generateLocked()
}

// Clear 删除已存储的批次ID，不生成新的
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.storage.Delete(m.key)
	m.current = Identity{}
}

// Current 返回最近发放的批次ID，Clear 之后返回零值
func (m *Manager) Current() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) generateLocked() Identity {
	now := m.now()
	id := Identity{BatchID: NewBatchID(now), CreatedAt: now}
	m.storage.Set(m.key, id.BatchID)
	m.current = id
	return id
}

// NewBatchID 返回 "session-<毫秒时间戳>-<后缀>"，后缀由进程内序号和随机位组成，
// 同一进程内不会重复
func NewBatchID(now time.Time) string {
	seq := strconv.FormatUint(sequence.Add(1), 36)
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
	return fmt.Sprintf("session-%d-%s%s", now.UnixMilli(), random, seq)
}

func createdAtOf(batchID string, fallback time.Time) time.Time {
	parts := strings.SplitN(batchID, "-", 3)
	if len(parts) < 3 || parts[0] != "session" {
		return fallback
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fallback
	}
	return time.UnixMilli(ms)
}
