package scenario

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/companion/internal/language"
	"github.com/zhouzirui/z-tavern/companion/internal/model/scenario"
	"github.com/zhouzirui/z-tavern/companion/pkg/utils"
)

// Handler 练习场景与语言列表的HTTP处理器
type Handler struct {
	scenarios scenario.Store
}

// New 创建场景处理器
func New(scenarios scenario.Store) *Handler {
	return &Handler{scenarios: scenarios}
}

// RegisterRoutes 注册场景相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/scenarios", h.handleListScenarios)
	r.Get("/scenarios/{scenarioID}", h.handleGetScenario)
	r.Get("/languages", h.handleListLanguages)
}

// handleListScenarios 列出所有场景
func (h *Handler) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.scenarios.List())
}

func (h *Handler) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	item, ok := h.scenarios.FindByID(chi.URLParam(r, "scenarioID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "scenario not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, item)
}

type languageView struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	SpeechLocale string `json:"speechLocale"`
}

// handleListLanguages 列出支持的练习语言
func (h *Handler) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	codes := language.Supported()
	out := make([]languageView, 0, len(codes))
	for _, c := range codes {
		out = append(out, languageView{Code: string(c), Name: c.DisplayName(), SpeechLocale: c.SpeechLocale()})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}
