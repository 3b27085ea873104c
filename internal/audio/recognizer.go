package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"

	"github.com/zhouzirui/z-tavern/companion/internal/service/listen"
)

const (
	localePlaceholder = "{locale}"
	partialPrefix     = "partial:"
)

// CommandRecognizer 运行识别命令，命令每行向标准输出写一条识别结果。
// 以 "partial:" 开头的行是中间结果，其余为最终结果
type CommandRecognizer struct {
	argv []string
}

// NewCommandRecognizer 解析命令行，每次 Start 时将 "{locale}" 替换为语音区域
func NewCommandRecognizer(line string) (*CommandRecognizer, error) {
	argv, err := splitCommand(line)
	if err != nil {
		return nil, err
	}
	return &CommandRecognizer{argv: argv}, nil
}

// Start 启动命令，取消 ctx 会结束进程
func (r *CommandRecognizer) Start(ctx context.Context, locale string) (<-chan listen.Result, error) {
	argv := make([]string, len(r.argv))
	for i, a := range r.argv {
		argv[i] = strings.ReplaceAll(a, localePlaceholder, locale)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open recognizer stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start recognizer: %w", err)
	}

	results := make(chan listen.Result)
	go func() {
		defer close(results)
		readResults(ctx, stdout, results)
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			log.Printf("[audio] recognizer exited: %v", err)
			select {
			case results <- listen.Result{Err: fmt.Errorf("recognizer: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return results, nil
}

func readResults(ctx context.Context, r io.Reader, out chan<- listen.Result) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		res, ok := parseResultLine(sc.Text())
		if !ok {
			continue
		}
		select {
		case out <- res:
		case <-ctx.Done():
			// 继续读取，避免进程阻塞在写满的管道上
			_, _ = io.Copy(io.Discard, r)
			return
		}
	}
}

func parseResultLine(line string) (listen.Result, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return listen.Result{}, false
	}
	if rest, ok := strings.CutPrefix(line, partialPrefix); ok {
		rest = strings.TrimSpace(rest)
		return listen.Result{Transcript: rest}, rest != ""
	}
	return listen.Result{Transcript: line, Final: true}, true
}
