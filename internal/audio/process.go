package audio

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// ErrCommandNotConfigured 构造函数收到空命令行
var ErrCommandNotConfigured = errors.New("audio command not configured")

// processHandle 跟踪一个外部播放或合成进程
type processHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	err     error
	stopped bool
}

func startProcess(name string, args ...string) (*processHandle, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%s is not installed or not in PATH: %w", name, err)
	}
	cmd := exec.Command(name, args...)
	cmd.Stdout = io.Discard
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	h := &processHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		if err != nil && !h.stopped {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				err = fmt.Errorf("%s: %w: %s", name, err, msg)
			} else {
				err = fmt.Errorf("%s: %w", name, err)
			}
			h.err = err
		}
		h.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

func (h *processHandle) Done() <-chan struct{} { return h.done }

func (h *processHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Stop 结束进程，被停止的进程不报告错误
func (h *processHandle) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}

// splitCommand 按空白拆分配置的命令行
func splitCommand(line string) ([]string, error) {
	argv := strings.Fields(line)
	if len(argv) == 0 {
		return nil, ErrCommandNotConfigured
	}
	return argv, nil
}
