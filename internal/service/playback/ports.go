package playback

import (
	"context"

	"github.com/zhouzirui/z-tavern/companion/internal/backend"
	"github.com/zhouzirui/z-tavern/companion/internal/language"
	"github.com/zhouzirui/z-tavern/companion/internal/service/voice"
)

// Handle Player 持有的一次播放
type Handle interface {
	// Done 播放以任何方式结束时关闭
	Done() <-chan struct{}
	// Err 返回结束原因，正常结束或 Stop 时为 nil
	Err() error
	Stop()
}

// Engine 按地址播放音频
type Engine interface {
	Play(ctx context.Context, url string) (Handle, error)
}

// Utterance 本地合成的声音参数
type Utterance struct {
	Voice  voice.Voice
	Locale string
	Rate   float64
	Pitch  float64
}

// Synthesizer 作为最后兜底的本地语音合成
type Synthesizer interface {
	Voices(ctx context.Context) ([]voice.Voice, error)
	Speak(ctx context.Context, text string, u Utterance) (Handle, error)
}

// Backend 提供远程层级: 探测预生成音频和生成新音频
type Backend interface {
	CheckAudio(ctx context.Context, ref string) error
	SynthesizeAudio(ctx context.Context, text string, lang language.Code) (string, error)
}

// BackendTTS 将后端客户端适配为 Backend
type BackendTTS struct {
	client *backend.Client
}

// NewBackendTTS 包装 client
func NewBackendTTS(client *backend.Client) *BackendTTS {
	return &BackendTTS{client: client}
}

func (b *BackendTTS) CheckAudio(ctx context.Context, ref string) error {
	return b.client.CheckAudio(ctx, ref)
}

func (b *BackendTTS) SynthesizeAudio(ctx context.Context, text string, lang language.Code) (string, error) {
	params := voice.BackendParams(lang)
	return b.client.GenerateAudio(ctx, backend.AudioRequest{
		Text:         text,
		Language:     string(lang),
		VoiceType:    params.VoiceType,
		Model:        params.Model,
		UseOptimized: true,
	})
}
