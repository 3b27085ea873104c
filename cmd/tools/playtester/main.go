package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-tavern/companion/internal/audio"
	"github.com/zhouzirui/z-tavern/companion/internal/backend"
	"github.com/zhouzirui/z-tavern/companion/internal/config"
	"github.com/zhouzirui/z-tavern/companion/internal/language"
	"github.com/zhouzirui/z-tavern/companion/internal/service/playback"
	"github.com/zhouzirui/z-tavern/companion/internal/service/suggestion"
	"github.com/zhouzirui/z-tavern/companion/internal/service/voice"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: play、voices、suggest 或 normalize")
	text := flag.String("text", "", "play 模式的文本，normalize 模式的语言名称或代码")
	audioRef := flag.String("audio", "", "play 模式下预生成音频的地址 (可选)")
	lang := flag.String("lang", "", "语言名称或代码，默认使用配置中的语言")
	username := flag.String("user", "", "suggest 模式的用户名，默认使用配置中的用户名")
	scenarioTitle := flag.String("scenario", "", "suggest 模式的角色扮演场景标题 (可选)")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	code := cfg.Session.DefaultLanguage
	if *lang != "" {
		code = language.Normalize(*lang)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "normalize":
		runNormalize(*text)
	case "voices":
		runVoices(ctx, cfg, code)
	case "play":
		runPlay(ctx, cfg, code, *text, *audioRef)
	case "suggest":
		user := *username
		if user == "" {
			user = cfg.Session.DefaultUsername
		}
		runSuggest(ctx, cfg, code, user, *scenarioTitle)
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=play、-mode=voices、-mode=suggest 或 -mode=normalize 指定测试模式")
	}
}

func runNormalize(input string) {
	code := language.Normalize(input)
	fmt.Printf("%q -> %s (%s, speech locale %s, supported=%v)\n",
		input, code, code.DisplayName(), code.SpeechLocale(), language.IsSupported(input))
}

func runVoices(ctx context.Context, cfg *config.Config, code language.Code) {
	synth, err := audio.NewCommandSynthesizer(cfg.Audio.SynthCommand)
	if err != nil {
		log.Fatalf("本地合成不可用: %v", err)
	}
	voices, err := synth.Voices(ctx)
	if err != nil {
		log.Fatalf("获取声音列表失败: %v", err)
	}

	for _, v := range voices {
		fmt.Printf("%-12s %-8s %s\n", v.Lang, v.Gender, v.Name)
	}
	picked := voice.SelectVoice(code, voices)
	if picked == nil {
		log.Fatal("没有可用的声音")
	}
	profile := voice.ProfileFor(code)
	log.Printf("%s 选中声音: %s (%s) rate=%.2f pitch=%.2f", code, picked.Name, picked.Lang, profile.Rate, profile.Pitch)
}

func runPlay(ctx context.Context, cfg *config.Config, code language.Code, text, audioRef string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("play 模式需要通过 -text 提供待播放文本")
	}

	client := newClient(cfg)
	var engine playback.Engine
	if e, err := audio.NewCommandEngine(cfg.Audio.PlayerCommand); err != nil {
		log.Printf("[WARN] 播放器不可用，跳过音频地址播放: %v", err)
	} else {
		engine = e
	}
	var synth playback.Synthesizer
	if s, err := audio.NewCommandSynthesizer(cfg.Audio.SynthCommand); err != nil {
		log.Printf("[WARN] 本地合成不可用: %v", err)
	} else {
		synth = s
	}

	done := make(chan struct{})
	var finish sync.Once
	player := playback.NewPlayer(playback.NewBackendTTS(client), engine, synth,
		playback.WithOnChange(func(key string) {
			if key == "" {
				finish.Do(func() { close(done) })
				return
			}
			log.Printf("开始播放 key=%s", key)
		}),
		playback.WithOnNotice(func(msg string) { log.Printf("[notice] %s", msg) }),
	)

	if audioRef != "" {
		audioRef = client.ResolveURL(audioRef)
	}
	outcome, err := player.Play(ctx, playback.Request{
		Key:      playback.KeyForTurn(0),
		Text:     text,
		Language: code,
		AudioRef: audioRef,
	})
	if err != nil {
		log.Fatalf("播放失败: %v", err)
	}
	log.Printf("播放来源: %s", outcome)

	select {
	case <-done:
		log.Println("播放结束")
	case <-ctx.Done():
		player.Stop()
		log.Println("超时，已停止播放")
	}
}

func runSuggest(ctx context.Context, cfg *config.Config, code language.Code, username, scenarioTitle string) {
	client := newClient(cfg)
	coordinator := suggestion.NewCoordinator(client, suggestion.WithOnChange(func(list []string) {
		for i, s := range list {
			fmt.Printf("%d. %s\n", i+1, s)
		}
	}))

	issued := coordinator.Trigger(ctx, suggestion.Request{
		Username: username,
		Language: string(code),
		Scenario: scenarioTitle,
		Initial:  true,
	})
	if !issued {
		log.Fatal("建议请求被拒绝")
	}
	if len(coordinator.Suggestions()) == 0 {
		log.Fatal("后端未返回建议，详见日志")
	}
}

func newClient(cfg *config.Config) *backend.Client {
	client, err := backend.New(cfg.Backend.BaseURL, backend.NewHTTPClient(cfg.Backend.Timeout))
	if err != nil {
		log.Fatalf("后端地址无效: %v", err)
	}
	return client
}
