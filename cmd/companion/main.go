package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-tavern/companion/internal/audio"
	"github.com/zhouzirui/z-tavern/companion/internal/backend"
	"github.com/zhouzirui/z-tavern/companion/internal/config"
	"github.com/zhouzirui/z-tavern/companion/internal/handler"
	"github.com/zhouzirui/z-tavern/companion/internal/model/scenario"
	"github.com/zhouzirui/z-tavern/companion/internal/service/ai"
	"github.com/zhouzirui/z-tavern/companion/internal/service/identity"
	"github.com/zhouzirui/z-tavern/companion/internal/service/playback"
	"github.com/zhouzirui/z-tavern/companion/internal/service/session"
	"github.com/zhouzirui/z-tavern/companion/internal/service/suggestion"
	"github.com/zhouzirui/z-tavern/companion/internal/service/translation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	client, err := backend.New(cfg.Backend.BaseURL, backend.NewHTTPClient(cfg.Backend.Timeout))
	if err != nil {
		log.Fatalf("invalid backend url: %v", err)
	}
	log.Printf("language backend at %s", client.BaseURL())

	deps := session.Deps{
		Backend: client,
		Audio:   playback.NewBackendTTS(client),
		Storage: identity.NewMemoryStorage(),
	}

	// 大模型仅作为翻译和建议的兜底
	fetchers := suggestion.FallbackFetcher{client}
	var fallbackTranslator translation.Translator
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to create Ark chat model: %v", err)
		} else if aiService, err := ai.NewService(ctx, chatModel); err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
		} else {
			fallbackTranslator = aiService
			fetchers = append(fetchers, aiService)
			log.Println("AI fallback for translation and suggestions enabled")
		}
	} else {
		log.Println("Ark 凭证未配置，翻译与建议仅使用后端")
	}
	deps.Suggestions = fetchers
	deps.Translator = translation.NewService(client, fallbackTranslator)

	wireAudio(&deps, cfg.Audio)

	scenarios := scenario.NewMemoryStore(scenario.Seed())
	registry := session.NewRegistry(scenarios, deps, session.Settings{
		DefaultLanguage:        cfg.Session.DefaultLanguage,
		SuggestionCooldown:     cfg.Session.SuggestionCooldown,
		SuggestionDelay:        cfg.Session.SuggestionDelay,
		InitialSuggestionDelay: cfg.Session.InitialSuggestionDelay,
		ListenTimeout:          cfg.Session.ListenTimeout,
		TeardownTimeout:        cfg.Session.TeardownTimeout,
	})

	router := handler.NewRouter(scenarios, registry, handler.Options{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		DefaultUsername: cfg.Session.DefaultUsername,
	})

	startServer(ctx, cfg.Server, router)

	// 关闭所有会话，等待未决定对话的后台保存完成
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.TeardownTimeout)
	defer cancel()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: sessions did not finish saving: %v", err)
	}
}

// wireAudio 按配置接入本地播放、合成与识别命令，缺失的能力保持为 nil
func wireAudio(deps *session.Deps, cfg config.AudioConfig) {
	if cfg.PlayerCommand != "" {
		if engine, err := audio.NewCommandEngine(cfg.PlayerCommand); err != nil {
			log.Printf("warning: audio player disabled: %v", err)
		} else {
			deps.Engine = engine
		}
	}
	if cfg.SynthCommand != "" {
		if synth, err := audio.NewCommandSynthesizer(cfg.SynthCommand); err != nil {
			log.Printf("warning: speech synthesis disabled: %v", err)
		} else {
			deps.Synthesizer = synth
		}
	}
	if cfg.RecognizerCommand != "" {
		if rec, err := audio.NewCommandRecognizer(cfg.RecognizerCommand); err != nil {
			log.Printf("warning: speech recognition disabled: %v", err)
		} else {
			deps.Recognizer = rec
		}
	} else {
		log.Println("语音识别命令未配置，跳过语音输入")
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("language companion listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
