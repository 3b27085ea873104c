package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/z-tavern/companion/internal/metrics"
)

var (
	// ErrSaveFailed 保存失败，决定保持 MarkedForSave
	ErrSaveFailed = errors.New("save conversation failed")
	// ErrSaveInProgress 该批次已有保存正在进行
	ErrSaveInProgress = errors.New("save already in progress")
)

// DefaultTeardownTimeout 关闭时后台保存的时限
const DefaultTeardownTimeout = 15 * time.Second

// Decision 当前批次的保存/丢弃状态
type Decision string

const (
	Undecided        Decision = "undecided"
	MarkedForSave    Decision = "marked_for_save"
	MarkedForDiscard Decision = "marked_for_discard"
	Committed        Decision = "committed"
)

// DiscardMode 决定如何通知后端放弃的批次
type DiscardMode int

const (
	// DiscardKeepSession 清除批次，页面保持打开并使用新批次
	DiscardKeepSession DiscardMode = iota
	// DiscardExit 用户不保存直接退出，强制清除批次
	DiscardExit
)

// Result 一次状态转换的结果
type Result string

const (
	ResultCommitted Result = "committed"
	ResultScheduled Result = "scheduled"
	ResultSkipped   Result = "skipped"
	ResultNoop      Result = "noop"
)

// Persister 执行提交的网络部分
type Persister interface {
	Persist(ctx context.Context, batchID string) error
	Abandon(ctx context.Context, batchID string, mode DiscardMode) error
}

// Machine 裁决一个页面各批次的保存、丢弃和关闭，
// 每个批次最多提交一次
type Machine struct {
	mu              sync.Mutex
	persister       Persister
	teardownTimeout time.Duration

	batchID   string
	decision  Decision
	saving    bool
	tearing   bool
	committed map[string]bool
	wg        sync.WaitGroup
}

// NewMachine 为 batchID 创建 Machine
func NewMachine(persister Persister, batchID string, teardownTimeout time.Duration) *Machine {
	if teardownTimeout <= 0 {
		teardownTimeout = DefaultTeardownTimeout
	}
	return &Machine{
		persister:       persister,
		teardownTimeout: teardownTimeout,
		batchID:         batchID,
		decision:        Undecided,
		committed:       make(map[string]bool),
	}
}

// Reset 切换到新批次，已提交的批次保持已提交
func (m *Machine) Reset(batchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchID = batchID
	m.saving = false
	m.tearing = false
	if m.committed[batchID] {
		m.decision = Committed
	} else {
		m.decision = Undecided
	}
}

// Decision 返回当前批次的状态
func (m *Machine) Decision() Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decision
}

// BatchID 返回当前裁决的批次
func (m *Machine) BatchID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchID
}

// IsCommitted 判断 batchID 是否已保存或丢弃
func (m *Machine) IsCommitted(batchID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed[batchID]
}

// Save 标记保存并持久化批次，失败时决定保持 MarkedForSave 以便重试
func (m *Machine) Save(ctx context.Context) (Result, error) {
	m.mu.Lock()
	batchID := m.batchID
	if m.committed[batchID] {
		m.mu.Unlock()
		return ResultNoop, nil
	}
	if m.saving {
		m.mu.Unlock()
		return ResultNoop, ErrSaveInProgress
	}
	m.decision = MarkedForSave
	m.saving = true
	m.mu.Unlock()

	err := m.persister.Persist(ctx, batchID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saving = false
	if err != nil {
		metrics.Commits.WithLabelValues("save", "error").Inc()
		log.Printf("[lifecycle] save failed batch=%s: %v", batchID, err)
		return ResultNoop, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	m.committed[batchID] = true
	if m.batchID == batchID {
		m.decision = Committed
	}
	metrics.Commits.WithLabelValues("save", "ok").Inc()
	log.Printf("[lifecycle] saved batch=%s", batchID)
	return ResultCommitted, nil
}

// Discard 标记批次已丢弃并通知后端，网络失败只记录日志，批次照常提交
func (m *Machine) Discard(ctx context.Context, mode DiscardMode) Result {
	m.mu.Lock()
	batchID := m.batchID
	if m.committed[batchID] {
		m.mu.Unlock()
		return ResultNoop
	}
	m.decision = MarkedForDiscard
	m.committed[batchID] = true
	m.mu.Unlock()

	outcome := "ok"
	if err := m.persister.Abandon(ctx, batchID, mode); err != nil {
		outcome = "error"
		log.Printf("[lifecycle] discard notification failed batch=%s: %v", batchID, err)
	}
	metrics.Commits.WithLabelValues("discard", outcome).Inc()

	m.mu.Lock()
	if m.batchID == batchID {
		m.decision = Committed
	}
	m.mu.Unlock()
	return ResultCommitted
}

// Teardown 处理未明确选择就关闭的页面: 不止一条消息且批次未被放弃时，
// 发起一次不受 ctx 约束的保存并立即返回
func (m *Machine) Teardown(ctx context.Context, turns int) Result {
	m.mu.Lock()
	batchID := m.batchID
	switch {
	case m.committed[batchID]:
		m.mu.Unlock()
		return ResultNoop
	case m.decision == MarkedForDiscard, turns <= 1:
		m.mu.Unlock()
		return ResultSkipped
	case m.saving || m.tearing:
		m.mu.Unlock()
		return ResultNoop
	}
	m.tearing = true
	m.wg.Add(1)
	m.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.teardownTimeout)
	go func() {
		defer m.wg.Done()
		defer cancel()

		err := m.persister.Persist(saveCtx, batchID)

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.batchID == batchID {
			m.tearing = false
		}
		if err != nil {
			metrics.Commits.WithLabelValues("teardown", "error").Inc()
			log.Printf("[lifecycle] teardown save failed batch=%s: %v", batchID, err)
			return
		}
		m.committed[batchID] = true
		if m.batchID == batchID {
			m.decision = Committed
		}
		metrics.Commits.WithLabelValues("teardown", "ok").Inc()
		log.Printf("[lifecycle] teardown saved batch=%s", batchID)
	}()
	return ResultScheduled
}

// Wait 等待所有关闭时的保存完成
func (m *Machine) Wait() {
	m.wg.Wait()
}
