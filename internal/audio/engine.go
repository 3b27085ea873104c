package audio

import (
	"context"
	"log"

	"github.com/zhouzirui/z-tavern/companion/internal/service/playback"
)

// DefaultPlayerCommand 无窗口播放地址，播放完自动退出
const DefaultPlayerCommand = "ffplay -nodisp -autoexit -loglevel quiet"

// CommandEngine 用外部播放器播放音频地址，地址作为最后一个参数追加
type CommandEngine struct {
	argv []string
}

// NewCommandEngine 解析播放器命令行，例如 DefaultPlayerCommand
func NewCommandEngine(line string) (*CommandEngine, error) {
	argv, err := splitCommand(line)
	if err != nil {
		return nil, err
	}
	return &CommandEngine{argv: argv}, nil
}

// Play 启动播放器，播放器退出时返回的句柄结束
func (e *CommandEngine) Play(ctx context.Context, url string) (playback.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := append(append([]string{}, e.argv[1:]...), url)
	h, err := startProcess(e.argv[0], args...)
	if err != nil {
		return nil, err
	}
	log.Printf("[audio] playing %s with %s", url, e.argv[0])
	return h, nil
}
