package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-tavern/companion/internal/language"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Session SessionConfig
	Audio   AudioConfig
	AI      AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	backend, err := loadBackendConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Backend: backend,
		Session: session,
		Audio:   loadAudioConfig(),
		AI:      ai,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址与跨域白名单。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8090"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8090" 或 "127.0.0.1:8090"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// BackendConfig 描述语言学习后端的连接参数。
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

func loadBackendConfig() (BackendConfig, error) {
	timeout, err := parseSecondsEnv("BACKEND_TIMEOUT", 30*time.Second)
	if err != nil {
		return BackendConfig{}, err
	}
	return BackendConfig{
		BaseURL: strings.TrimRight(getEnvOrDefault("BACKEND_URL", "http://localhost:8000"), "/"),
		Timeout: timeout,
	}, nil
}

// SessionConfig 描述会话默认值与各类节流、超时参数。
type SessionConfig struct {
	DefaultUsername        string
	DefaultLanguage        language.Code
	SuggestionCooldown     time.Duration
	SuggestionDelay        time.Duration
	InitialSuggestionDelay time.Duration
	ListenTimeout          time.Duration
	TeardownTimeout        time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	cooldown, err := parseMillisEnv("SUGGESTION_COOLDOWN_MS", 3*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}
	delay, err := parseMillisEnv("SUGGESTION_DELAY_MS", 1500*time.Millisecond)
	if err != nil {
		return SessionConfig{}, err
	}
	initialDelay, err := parseMillisEnv("INITIAL_SUGGESTION_DELAY_MS", 500*time.Millisecond)
	if err != nil {
		return SessionConfig{}, err
	}
	listenTimeout, err := parseMillisEnv("LISTEN_TIMEOUT_MS", 10*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}
	teardown, err := parseSecondsEnv("TEARDOWN_SAVE_TIMEOUT", 15*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		DefaultUsername:        getEnvOrDefault("DEFAULT_USERNAME", "Guest"),
		DefaultLanguage:        language.Normalize(getEnvOrDefault("DEFAULT_LANGUAGE", "en")),
		SuggestionCooldown:     cooldown,
		SuggestionDelay:        delay,
		InitialSuggestionDelay: initialDelay,
		ListenTimeout:          listenTimeout,
		TeardownTimeout:        teardown,
	}, nil
}

// AudioConfig 描述本地播放、合成与识别命令，空字符串表示禁用。
type AudioConfig struct {
	PlayerCommand     string
	SynthCommand      string
	RecognizerCommand string
}

func loadAudioConfig() AudioConfig {
	return AudioConfig{
		PlayerCommand:     lookupEnvOrDefault("AUDIO_PLAYER_CMD", "ffplay -nodisp -autoexit -loglevel quiet"),
		SynthCommand:      lookupEnvOrDefault("SPEECH_SYNTH_CMD", "espeak-ng"),
		RecognizerCommand: lookupEnvOrDefault("SPEECH_RECOGNIZER_CMD", ""),
	}
}

// AIConfig 描述大模型相关配置，用作翻译与建议的兜底。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnvOrDefault 与 getEnvOrDefault 不同：显式设置为空字符串时返回空。
func lookupEnvOrDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func parseMillisEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	ms, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if ms == nil {
		return defaultValue, nil
	}
	if *ms < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, strconv.Itoa(*ms))
	}
	return time.Duration(*ms) * time.Millisecond, nil
}

func parseSecondsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	seconds, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if seconds == nil {
		return defaultValue, nil
	}
	if *seconds <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, strconv.Itoa(*seconds))
	}
	return time.Duration(*seconds) * time.Second, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
