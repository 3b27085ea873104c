package listen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/z-tavern/companion/internal/language"
)

type fakeRecognizer struct {
	results []Result
	close   bool
	locale  string
	stopped chan struct{}
}

func (r *fakeRecognizer) Start(ctx context.Context, locale string) (<-chan Result, error) {
	r.locale = locale
	ch := make(chan Result, len(r.results))
	for _, res := range r.results {
		ch <- res
	}
	if r.close {
		close(ch)
	}
	if r.stopped != nil {
		go func() {
			<-ctx.Done()
			close(r.stopped)
		}()
	}
	return ch, nil
}

func TestListenReturnsFinalTranscript(t *testing.T) {
	rec := &fakeRecognizer{results: []Result{
		{Transcript: "こんに"},
		{Transcript: "こんにちは", Final: true},
	}}
	l := NewListener(rec, time.Second, nil)

	got, err := l.Listen(context.Background(), language.Japanese)
	if err != nil || got != "こんにちは" {
		t.Fatalf("Listen = %q, %v", got, err)
	}
	if rec.locale != "ja-JP" {
		t.Fatalf("locale = %q", rec.locale)
	}
}

func TestListenTimeoutClosesSession(t *testing.T) {
	rec := &fakeRecognizer{stopped: make(chan struct{})}
	l := NewListener(rec, 20*time.Millisecond, nil)

	if _, err := l.Listen(context.Background(), language.English); !errors.Is(err, ErrInactive) {
		t.Fatalf("Listen err = %v", err)
	}
	select {
	case <-rec.stopped:
	case <-time.After(time.Second):
		t.Fatal("recognizer context was not canceled after timeout")
	}
}

func TestListenTimeoutKeepsInterim(t *testing.T) {
	rec := &fakeRecognizer{results: []Result{{Transcript: "hello wor"}}}
	l := NewListener(rec, 20*time.Millisecond, nil)

	got, err := l.Listen(context.Background(), language.English)
	if err != nil || got != "hello wor" {
		t.Fatalf("Listen = %q, %v", got, err)
	}
}

func TestListenRecognizerError(t *testing.T) {
	boom := errors.New("mic denied")
	l := NewListener(&fakeRecognizer{results: []Result{{Err: boom}}}, time.Second, nil)

	if _, err := l.Listen(context.Background(), language.English); !errors.Is(err, boom) {
		t.Fatalf("Listen err = %v", err)
	}
}

func TestListenClosedWithoutResult(t *testing.T) {
	l := NewListener(&fakeRecognizer{close: true}, time.Second, nil)

	if _, err := l.Listen(context.Background(), language.English); !errors.Is(err, ErrInactive) {
		t.Fatalf("Listen err = %v", err)
	}
}

func TestListenUnsupportedNoticesOnce(t *testing.T) {
	var notices int
	l := NewListener(nil, time.Second, func(string) { notices++ })

	for i := 0; i < 3; i++ {
		if _, err := l.Listen(context.Background(), language.English); !errors.Is(err, ErrUnsupported) {
			t.Fatalf("Listen err = %v", err)
		}
	}
	if notices != 1 {
		t.Fatalf("notices = %d", notices)
	}
}
