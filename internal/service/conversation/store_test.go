package conversation_test

import (
	"errors"
	"fmt"
	"testing"

	model "github.com/zhouzirui/z-tavern/companion/internal/model/conversation"
	"github.com/zhouzirui/z-tavern/companion/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/companion/internal/service/identity"
)

func TestAppendAssignsSequentialIndexes(t *testing.T) {
	store := conversation.NewStore()

	for i := 0; i < 5; i++ {
		idx := store.Append(model.Turn{Text: fmt.Sprintf("turn %d", i), Sender: model.SenderUser})
		if idx != i {
			t.Fatalf("Append returned %d, want %d", idx, i)
		}
	}
	if store.Len() != 5 {
		t.Fatalf("Len = %d", store.Len())
	}

	got, err := store.Get(3)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if got.Text != "turn 3" || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected turn %+v", got)
	}
}

func TestGetOutOfRange(t *testing.T) {
	store := conversation.NewStore()
	store.Append(model.Turn{Text: "hi", Sender: model.SenderBot})

	for _, idx := range []int{-1, 1, 42} {
		if _, err := store.Get(idx); !errors.Is(err, conversation.ErrTurnNotFound) {
			t.Fatalf("Get(%d) err = %v", idx, err)
		}
	}
	if err := store.AttachTranslation(7, "x"); !errors.Is(err, conversation.ErrTurnNotFound) {
		t.Fatalf("AttachTranslation err = %v", err)
	}
}

func TestAttachIsIdempotentAndOverwrites(t *testing.T) {
	store := conversation.NewStore()
	idx := store.Append(model.Turn{Text: "こんにちは", Sender: model.SenderBot})

	for _, text := range []string{"Hello", "Hello", "Hi"} {
		if err := store.AttachTranslation(idx, text); err != nil {
			t.Fatalf("AttachTranslation err: %v", err)
		}
	}
	if err := store.AttachAudioRef(idx, "/audio/1.mp3"); err != nil {
		t.Fatalf("AttachAudioRef err: %v", err)
	}

	got, _ := store.Get(idx)
	if got.Translation != "Hi" || got.AudioRef != "/audio/1.mp3" || got.Text != "こんにちは" {
		t.Fatalf("unexpected turn %+v", got)
	}
}

func TestPayloadUsesBatchIDAtSerializationTime(t *testing.T) {
	store := conversation.NewStore()
	ids := identity.NewManager(identity.NewMemoryStorage(), "tab")

	original := ids.GetOrCreate()
	store.Append(model.Turn{Text: "Hello", Sender: model.SenderUser})
	store.Append(model.Turn{Text: "Hi there!", Sender: model.SenderBot, AudioRef: "/audio/123.mp3"})
	store.Append(model.Turn{Text: "How are you?", Sender: model.SenderUser})

	rotated := ids.Rotate()
	payload := store.Payload(rotated.BatchID)

	if len(payload) != 3 {
		t.Fatalf("payload length %d", len(payload))
	}
	wantText := []string{"Hello", "Hi there!", "How are you?"}
	for i, entry := range payload {
		if entry.Text != wantText[i] {
			t.Fatalf("entry %d text %q, want %q", i, entry.Text, wantText[i])
		}
		if entry.BatchID != rotated.BatchID || entry.BatchID == original.BatchID {
			t.Fatalf("entry %d batch id %q, want %q", i, entry.BatchID, rotated.BatchID)
		}
		if entry.Discarded {
			t.Fatalf("entry %d must not be discarded", i)
		}
	}
	if payload[1].Sender != model.SenderBot || payload[1].AudioRef != "/audio/123.mp3" {
		t.Fatalf("unexpected bot entry %+v", payload[1])
	}
}

func TestSnapshotIsCopyAndResetEmpties(t *testing.T) {
	store := conversation.NewStore()
	store.Append(model.Turn{Text: "a", Sender: model.SenderUser})
	store.Append(model.Turn{Text: "b", Sender: model.SenderBot})

	snap := store.Snapshot()
	snap[0].Text = "mutated"
	if got, _ := store.Get(0); got.Text != "a" {
		t.Fatal("Snapshot must not alias the log")
	}
	if store.CountBySender(model.SenderUser) != 1 {
		t.Fatal("unexpected user count")
	}

	store.Reset()
	if store.Len() != 0 {
		t.Fatal("Reset must empty the log")
	}
}
