package session

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/companion/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/companion/internal/service/lifecycle"
	"github.com/zhouzirui/z-tavern/companion/internal/service/listen"
	"github.com/zhouzirui/z-tavern/companion/internal/service/playback"
	sessionService "github.com/zhouzirui/z-tavern/companion/internal/service/session"
	"github.com/zhouzirui/z-tavern/companion/internal/service/translation"
	"github.com/zhouzirui/z-tavern/companion/pkg/utils"
)

// Handler 页面会话的HTTP处理器
type Handler struct {
	registry        *sessionService.Registry
	defaultUsername string
	ws              *WebSocketHandler
}

// New 创建会话处理器
func New(registry *sessionService.Registry, defaultUsername string) *Handler {
	return &Handler{
		registry:        registry,
		defaultUsername: defaultUsername,
		ws:              NewWebSocketHandler(registry),
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleCloseSession)
		r.Post("/messages", h.handleSendMessage)
		r.Post("/language", h.handleSetLanguage)
		r.Post("/turns/{index}/play", h.handlePlayTurn)
		r.Post("/turns/{index}/translate", h.handleTranslateTurn)
		r.Post("/playback/stop", h.handleStopPlayback)
		r.Post("/suggestions/refresh", h.handleRefreshSuggestions)
		r.Post("/suggestions/{index}/translate", h.handleTranslateSuggestion)
		r.Post("/listen", h.handleListen)
		r.Post("/save", h.handleSave)
		r.Post("/discard", h.handleDiscard)
		r.Get("/ws", h.ws.handleWebSocket)
	})
}

// handleCreateSession 打开一个页面会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TabID       string `json:"tabId"`
		ScenarioID  string `json:"scenarioId"`
		Username    string `json:"username"`
		Language    string `json:"language"`
		SkipWelcome bool   `json:"skipWelcome"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Username == "" {
		payload.Username = h.defaultUsername
	}

	s, err := h.registry.Create(r.Context(), sessionService.CreateOptions{
		TabID:       payload.TabID,
		ScenarioID:  payload.ScenarioID,
		Username:    payload.Username,
		Language:    payload.Language,
		SkipWelcome: payload.SkipWelcome,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, s.View())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, s.View())
}

// handleCloseSession 页面关闭时的兜底清理，未决定的对话会在后台保存
func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	res := s.Close(r.Context())
	utils.RespondJSON(w, http.StatusOK, map[string]string{"teardown": string(res)})
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exchange, err := s.Send(r.Context(), payload.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, exchange)
}

func (h *Handler) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var payload struct {
		Language string `json:"language"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil || payload.Language == "" {
		utils.RespondError(w, http.StatusBadRequest, "language is required")
		return
	}

	if _, err := s.SetLanguage(r.Context(), payload.Language); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, s.View())
}

func (h *Handler) handlePlayTurn(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	index, ok := indexParam(w, r)
	if !ok {
		return
	}

	outcome, err := s.PlayTurn(r.Context(), index)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (h *Handler) handleStopPlayback(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s.StopPlayback()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTranslateTurn(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	index, ok := indexParam(w, r)
	if !ok {
		return
	}

	text, err := s.TranslateTurn(r.Context(), index)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"translation": text})
}

func (h *Handler) handleTranslateSuggestion(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	index, ok := indexParam(w, r)
	if !ok {
		return
	}

	text, err := s.TranslateSuggestion(r.Context(), index)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"translation": text})
}

func (h *Handler) handleRefreshSuggestions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	fetched, err := s.RefreshSuggestions(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"fetched": fetched, "suggestions": s.Suggestions()})
}

func (h *Handler) handleListen(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	transcript, err := s.Listen(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"transcript": transcript})
}

// handleSave 保存并退出，失败时会话保持打开以便重试
func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	res, err := s.Save(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"result": string(res)})
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var payload struct {
		Exit bool `json:"exit"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.Discard(r.Context(), payload.Exit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if payload.Exit {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"result": string(res)})
		return
	}
	utils.RespondJSON(w, http.StatusOK, s.View())
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*sessionService.Session, bool) {
	s, err := h.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	return s, true
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		utils.RespondError(w, http.StatusBadRequest, "index must be a non-negative integer")
		return 0, false
	}
	return index, true
}

// respondServiceError 将服务层错误映射为HTTP状态码
func respondServiceError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, sessionService.ErrSessionNotFound),
		errors.Is(err, conversation.ErrTurnNotFound),
		errors.Is(err, sessionService.ErrSuggestionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sessionService.ErrScenarioNotFound),
		errors.Is(err, sessionService.ErrUsernameRequired),
		errors.Is(err, sessionService.ErrEmptyMessage),
		errors.Is(err, translation.ErrNotNeeded):
		status = http.StatusBadRequest
	case errors.Is(err, sessionService.ErrClosed):
		status = http.StatusGone
	case errors.Is(err, lifecycle.ErrSaveInProgress),
		errors.Is(err, listen.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, listen.ErrInactive):
		status = http.StatusRequestTimeout
	case errors.Is(err, listen.ErrUnsupported),
		errors.Is(err, playback.ErrNoVoices):
		status = http.StatusServiceUnavailable
	case errors.Is(err, lifecycle.ErrSaveFailed),
		errors.Is(err, playback.ErrSynthesisFailed):
		status = http.StatusBadGateway
	default:
		// 其余错误来自后端调用
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		log.Printf("[session] request failed: %v", err)
	}
	utils.RespondError(w, status, err.Error())
}
