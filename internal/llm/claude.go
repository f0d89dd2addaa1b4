package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/esnunes/prospector/internal/config"
)

// ClaudeCLI streams completions from the claude CLI. Whatever the process
// writes to stdout is relayed as it arrives.
type ClaudeCLI struct {
	bin   string
	model string
}

func NewClaudeCLI(cfg config.LLMConfig) *ClaudeCLI {
	return &ClaudeCLI{bin: "claude", model: cfg.Model}
}

func (c *ClaudeCLI) Name() string { return "claude" }

func (c *ClaudeCLI) Open(ctx context.Context, req Request) (Stream, error) {
	bin, err := exec.LookPath(c.bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s CLI not found", ErrNotConfigured, c.bin)
	}

	args := []string{"-p", "--output-format", "text"}
	if req.System != "" {
		args = append(args, "--system-prompt", req.System)
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, req.User)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = envWithout("CLAUDECODE")
	// Send SIGTERM on context cancellation so the CLI can clean up before
	// exiting. Fall back to SIGKILL after 5 seconds.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: running claude: %w", ErrRequestFailed, err)
	}
	return &cliStream{ctx: ctx, cmd: cmd, stdout: stdout, stderr: &stderr, buf: make([]byte, 4096)}, nil
}

type cliStream struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	buf    []byte

	waitOnce sync.Once
	waitErr  error
}

func (s *cliStream) wait() error {
	s.waitOnce.Do(func() { s.waitErr = s.cmd.Wait() })
	return s.waitErr
}

func (s *cliStream) Recv() (string, error) {
	n, err := s.stdout.Read(s.buf)
	if n > 0 {
		return string(s.buf[:n]), nil
	}
	if errors.Is(err, io.EOF) {
		if werr := s.wait(); werr != nil {
			if s.ctx.Err() != nil {
				return "", s.ctx.Err()
			}
			var exitErr *exec.ExitError
			if errors.As(werr, &exitErr) {
				return "", fmt.Errorf("%w: claude error: %s", ErrStreamError, strings.TrimSpace(s.stderr.String()))
			}
			return "", fmt.Errorf("%w: %w", ErrStreamError, werr)
		}
		return "", io.EOF
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStreamError, err)
	}
	return "", nil
}

func (s *cliStream) Close() error {
	if s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Signal(syscall.SIGTERM)
	}
	s.wait()
	return nil
}

func envWithout(key string) []string {
	prefix := key + "="
	var env []string
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, prefix) {
			env = append(env, e)
		}
	}
	return env
}
