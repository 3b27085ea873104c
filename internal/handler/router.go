package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/z-tavern/companion/internal/handler/scenario"
	"github.com/zhouzirui/z-tavern/companion/internal/handler/session"
	middlewarePkg "github.com/zhouzirui/z-tavern/companion/internal/middleware"
	scenarioModel "github.com/zhouzirui/z-tavern/companion/internal/model/scenario"
	sessionService "github.com/zhouzirui/z-tavern/companion/internal/service/session"
	"github.com/zhouzirui/z-tavern/companion/pkg/utils"
)

// Options HTTP 接口配置
type Options struct {
	AllowedOrigins  []string
	DefaultUsername string
}

// NewRouter 将HTTP路由绑定到核心服务
func NewRouter(scenarios scenarioModel.Store, registry *sessionService.Registry, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.AllowedOrigins))

	scenarioHandler := scenario.New(scenarios)
	sessionHandler := session.New(registry, opts.DefaultUsername)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": registry.Len()})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		scenarioHandler.RegisterRoutes(api)
		sessionHandler.RegisterRoutes(api)
	})

	return r
}
