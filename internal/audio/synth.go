package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/zhouzirui/z-tavern/companion/internal/service/playback"
	"github.com/zhouzirui/z-tavern/companion/internal/service/voice"
)

// DefaultSynthCommand espeak-ng 可执行文件
const DefaultSynthCommand = "espeak-ng"

const (
	baseWordsPerMinute = 175
	basePitch          = 50
)

// CommandSynthesizer 使用兼容 espeak 的程序朗读文本
type CommandSynthesizer struct {
	bin string
}

// NewCommandSynthesizer 基于 bin 创建合成器
func NewCommandSynthesizer(bin string) (*CommandSynthesizer, error) {
	argv, err := splitCommand(bin)
	if err != nil {
		return nil, err
	}
	return &CommandSynthesizer{bin: argv[0]}, nil
}

// Voices 通过 "--voices" 列出已安装的声音
func (s *CommandSynthesizer) Voices(ctx context.Context) ([]voice.Voice, error) {
	out, err := exec.CommandContext(ctx, s.bin, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return parseVoices(strings.NewReader(string(out)))
}

// Speak 开始朗读，进程启动后立即返回
func (s *CommandSynthesizer) Speak(ctx context.Context, text string, u playback.Utterance) (playback.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return startProcess(s.bin, speakArgs(text, u)...)
}

func speakArgs(text string, u playback.Utterance) []string {
	v := u.Voice.Lang
	if v == "" {
		v = strings.ToLower(u.Locale)
	}
	args := []string{}
	if v != "" {
		args = append(args, "-v", v)
	}
	args = append(args,
		"-s", strconv.Itoa(scale(baseWordsPerMinute, u.Rate, 80, 450)),
		"-p", strconv.Itoa(scale(basePitch, u.Pitch, 0, 99)),
		"--", text,
	)
	return args
}

func scale(base int, factor float64, lo, hi int) int {
	if factor <= 0 {
		factor = 1
	}
	n := int(math.Round(float64(base) * factor))
	return max(lo, min(hi, n))
}

// parseVoices 解析 "--voices" 输出的表格:
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US     (en 2)
func parseVoices(r io.Reader) ([]voice.Voice, error) {
	var voices []voice.Voice
	sc := bufio.NewScanner(r)
	header := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if header {
			header = false
			if strings.HasPrefix(line, "Pty") {
				continue
			}
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		v := voice.Voice{
			Name:         strings.ReplaceAll(fields[3], "_", " "),
			Lang:         fields[1],
			LocalService: true,
		}
		if _, g, ok := strings.Cut(fields[2], "/"); ok {
			switch g {
			case "M":
				v.Gender = "male"
			case "F":
				v.Gender = "female"
			}
		}
		voices = append(voices, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read voices: %w", err)
	}
	return voices, nil
}
