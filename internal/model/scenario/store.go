package scenario

// Store 为HTTP处理器和会话提供场景查询
type Store interface {
	List() []Scenario
	FindByID(id string) (Scenario, bool)
}

// MemoryStore 基于内存切片实现 Store
type MemoryStore struct {
	items []Scenario
}

// NewMemoryStore 创建预置给定场景的 MemoryStore
func NewMemoryStore(items []Scenario) *MemoryStore {
	return &MemoryStore{items: append([]Scenario(nil), items...)}
}

// List 返回预定义场景列表
func (s *MemoryStore) List() []Scenario {
	return append([]Scenario(nil), s.items...)
}

// FindByID 根据ID查找场景
func (s *MemoryStore) FindByID(id string) (Scenario, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Scenario{}, false
}
