package identity

import (
	"strings"
	"testing"
	"time"
)

func TestGetOrCreateReusesStoredID(t *testing.T) {
	storage := NewMemoryStorage()
	m := NewManager(storage, "tab-1")

	first := m.GetOrCreate()
	if !strings.HasPrefix(first.BatchID, "session-") {
		t.Fatalf("unexpected batch id format %q", first.BatchID)
	}
	if second := m.GetOrCreate(); second.BatchID != first.BatchID {
		t.Fatalf("GetOrCreate changed id: %q -> %q", first.BatchID, second.BatchID)
	}

	// 同一标签页上新建的 Manager 能读到已存储的ID
	again := NewManager(storage, "tab-1").GetOrCreate()
	if again.BatchID != first.BatchID {
		t.Fatalf("stored id not reused: %q vs %q", again.BatchID, first.BatchID)
	}
	if again.CreatedAt.UnixMilli() != first.CreatedAt.UnixMilli() {
		t.Fatalf("createdAt not recovered from id: %v vs %v", again.CreatedAt, first.CreatedAt)
	}

	other := NewManager(storage, "tab-2").GetOrCreate()
	if other.BatchID == first.BatchID {
		t.Fatal("tabs must not share a batch id")
	}
}

func TestRotateReplacesID(t *testing.T) {
	storage := NewMemoryStorage()
	m := NewManager(storage, "tab")

	before := m.GetOrCreate()
	after := m.Rotate()
	if after.BatchID == before.BatchID {
		t.Fatal("Rotate must produce a new id")
	}
	if stored, _ := storage.Get(StorageKey + ":tab"); stored != after.BatchID {
		t.Fatalf("stored id %q, want %q", stored, after.BatchID)
	}
}

func TestClearRemovesWithoutReplacement(t *testing.T) {
	storage := NewMemoryStorage()
	m := NewManager(storage, "")

	m.GetOrCreate()
	m.Clear()

	if _, ok := storage.Get(StorageKey); ok {
		t.Fatal("Clear must remove the stored id")
	}
	if m.Current().BatchID != "" {
		t.Fatal("Current must be empty after Clear")
	}
	if m.GetOrCreate().BatchID == "" {
		t.Fatal("GetOrCreate after Clear must generate a fresh id")
	}
}

func TestNewBatchIDUniqueWithinProcess(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewBatchID(now)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
		if !strings.HasPrefix(id, "session-1700000000000-") {
			t.Fatalf("unexpected id %q", id)
		}
	}
}
