package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tavern/companion/internal/backend"
	"github.com/zhouzirui/z-tavern/companion/internal/model/scenario"
	sessionService "github.com/zhouzirui/z-tavern/companion/internal/service/session"
	"github.com/zhouzirui/z-tavern/companion/internal/service/translation"
)

type fakeLanguageBackend struct {
	mu        sync.Mutex
	saves     []json.RawMessage
	failSaves atomic.Bool
}

func (f *fakeLanguageBackend) router() chi.Router {
	r := chi.NewRouter()
	r.Post("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"Hi there!","audio_url":"/audio/123.mp3"}`))
	})
	r.Post("/api/get_suggestions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"suggestions":["How are you?","Tell me more"]}`))
	})
	r.Post("/api/translate", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"translated_text":"Hello"}`))
	})
	r.Post("/api/save_conversation", func(w http.ResponseWriter, r *http.Request) {
		if f.failSaves.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		var raw json.RawMessage
		json.NewDecoder(r.Body).Decode(&raw)
		f.mu.Lock()
		f.saves = append(f.saves, raw)
		f.mu.Unlock()
		w.Write([]byte(`{"status":"ok"}`))
	})
	ok := func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{}`)) }
	r.Post("/api/clear_conversation", ok)
	r.Post("/api/set_user_profile", ok)
	r.Post("/api/set_scenario", ok)
	return r
}

func (f *fakeLanguageBackend) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func setupRouter(t *testing.T) (*chi.Mux, *sessionService.Registry, *fakeLanguageBackend) {
	t.Helper()
	fake := &fakeLanguageBackend{}
	srv := httptest.NewServer(fake.router())
	t.Cleanup(srv.Close)

	client, err := backend.New(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("backend.New err: %v", err)
	}

	registry := sessionService.NewRegistry(scenario.NewMemoryStore(scenario.Seed()), sessionService.Deps{
		Backend:     client,
		Suggestions: client,
		Translator:  translation.NewService(client, nil),
	}, sessionService.Settings{})

	r := chi.NewRouter()
	New(registry, "Guest").RegisterRoutes(r)
	return r, registry, fake
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func createSession(t *testing.T, r http.Handler, body map[string]any) sessionService.View {
	t.Helper()
	resp := doJSON(t, r, http.MethodPost, "/sessions", body)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var view sessionService.View
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return view
}

func TestCreateSendAndSave(t *testing.T) {
	r, registry, fake := setupRouter(t)

	view := createSession(t, r, map[string]any{"language": "en", "skipWelcome": true})
	if view.Username != "Guest" || view.Language != "en" || view.BatchID == "" {
		t.Fatalf("unexpected view: %+v", view)
	}

	resp := doJSON(t, r, http.MethodPost, "/sessions/"+view.ID+"/messages", map[string]string{"text": "Hello"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var exchange sessionService.Exchange
	json.NewDecoder(resp.Body).Decode(&exchange)
	if exchange.Bot.Text != "Hi there!" || !strings.HasSuffix(exchange.Bot.AudioRef, "/audio/123.mp3") {
		t.Fatalf("unexpected exchange: %+v", exchange)
	}

	s, _ := registry.Get(view.ID)
	s.Wait()

	resp = doJSON(t, r, http.MethodPost, "/sessions/"+view.ID+"/save", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	s.Wait()

	if fake.saveCount() != 1 {
		t.Fatalf("expected one save, got %d", fake.saveCount())
	}
	var saved struct {
		Conversation []map[string]any `json:"conversation"`
		IsDiscarded  bool             `json:"is_discarded"`
		BatchID      string           `json:"batch_id"`
	}
	json.Unmarshal(fake.saves[0], &saved)
	if len(saved.Conversation) != 2 || saved.IsDiscarded || saved.BatchID != view.BatchID {
		t.Fatalf("unexpected save payload: %s", fake.saves[0])
	}

	resp = doJSON(t, r, http.MethodGet, "/sessions/"+view.ID, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("saved session should be gone, got %d", resp.Code)
	}
}

func TestSaveFailureReturnsBadGateway(t *testing.T) {
	r, registry, fake := setupRouter(t)
	fake.failSaves.Store(true)

	view := createSession(t, r, map[string]any{"language": "en"})
	doJSON(t, r, http.MethodPost, "/sessions/"+view.ID+"/messages", map[string]string{"text": "Hello"})

	resp := doJSON(t, r, http.MethodPost, "/sessions/"+view.ID+"/save", nil)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(t, r, http.MethodGet, "/sessions/"+view.ID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("session should stay open, got %d", resp.Code)
	}
	var after sessionService.View
	json.NewDecoder(resp.Body).Decode(&after)
	if after.Decision != "marked_for_save" {
		t.Fatalf("decision = %s", after.Decision)
	}

	s, _ := registry.Get(view.ID)
	fake.failSaves.Store(false)
	resp = doJSON(t, r, http.MethodPost, "/sessions/"+view.ID+"/save", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("retry expected 200, got %d", resp.Code)
	}
	s.Wait()
}

func TestDiscardAndLanguageChange(t *testing.T) {
	r, registry, fake := setupRouter(t)

	view := createSession(t, r, map[string]any{"language": "en", "tabId": "tab-1"})
	doJSON(t, r, http.MethodPost, "/sessions/"+view.ID+"/messages", map[string]string{"text": "Hello"})

	resp := doJSON(t, r, http.MethodPost, "/sessions/"+view.ID+"/language", map[string]string{"language": "Japanese"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var changed sessionService.View
	json.NewDecoder(resp.Body).Decode(&changed)
	if changed.Language != "ja" || changed.BatchID == view.BatchID || len(changed.Turns) != 1 {
		t.Fatalf("unexpected view after language change: %+v", changed)
	}

	resp = doJSON(t, r, http.MethodPost, "/sessions/"+view.ID+"/discard", map[string]bool{"exit": true})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if registry.Len() != 0 {
		t.Fatalf("exit should close the session")
	}
	if fake.saveCount() != 0 {
		t.Fatalf("nothing should be saved, got %d", fake.saveCount())
	}
}

func TestRequestValidation(t *testing.T) {
	r, _, _ := setupRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "unknown session", method: http.MethodGet, path: "/sessions/missing", want: http.StatusNotFound},
		{name: "unknown scenario", method: http.MethodPost, path: "/sessions", body: map[string]string{"scenarioId": "nope"}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, r, tt.method, tt.path, tt.body)
			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.Code)
			}
		})
	}

	view := createSession(t, r, map[string]any{"language": "en"})
	base := "/sessions/" + view.ID
	checks := []struct {
		path string
		body any
		want int
	}{
		{path: base + "/messages", body: map[string]string{"text": "  "}, want: http.StatusBadRequest},
		{path: base + "/turns/abc/play", want: http.StatusBadRequest},
		{path: base + "/turns/9/play", want: http.StatusNotFound},
		{path: base + "/turns/0/play", want: http.StatusServiceUnavailable},
		{path: base + "/turns/0/translate", want: http.StatusBadRequest},
		{path: base + "/suggestions/3/translate", want: http.StatusNotFound},
		{path: base + "/listen", want: http.StatusServiceUnavailable},
		{path: base + "/language", body: map[string]string{}, want: http.StatusBadRequest},
	}
	for _, c := range checks {
		resp := doJSON(t, r, http.MethodPost, c.path, c.body)
		if resp.Code != c.want {
			t.Fatalf("POST %s: expected %d, got %d: %s", c.path, c.want, resp.Code, resp.Body.String())
		}
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	r, _, _ := setupRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	view := createSession(t, r, map[string]any{"language": "en", "skipWelcome": true})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + view.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()

	var first outgoingMessage
	if err := conn.ReadJSON(&first); err != nil || first.Type != "snapshot" {
		t.Fatalf("expected snapshot, got %+v (%v)", first, err)
	}

	resp := doJSON(t, r, http.MethodPost, "/sessions/"+view.ID+"/messages", map[string]string{"text": "Hello"})
	if resp.Code != http.StatusOK {
		t.Fatalf("send failed: %d", resp.Code)
	}

	var turn outgoingMessage
	if err := conn.ReadJSON(&turn); err != nil || turn.Type != "turn" {
		t.Fatalf("expected turn event, got %+v (%v)", turn, err)
	}

	if err := conn.WriteJSON(inboundMessage{Type: "bogus"}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	for {
		var msg outgoingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read err: %v", err)
		}
		if msg.Type == "error" {
			break
		}
	}

	doJSON(t, r, http.MethodDelete, "/sessions/"+view.ID, nil)
	for {
		var msg outgoingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			// 会话关闭后服务端断开连接
			return
		}
	}
}
