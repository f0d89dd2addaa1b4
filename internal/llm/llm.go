// Package llm talks to language-model completion APIs. Streams are opened in
// two phases so callers can report failures that happen before the first
// byte separately from failures mid-stream.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/esnunes/prospector/internal/config"
)

var (
	ErrNotConfigured = errors.New("model credentials not configured")
	ErrRequestFailed = errors.New("API request failed")
	ErrStreamError   = errors.New("stream error")
)

type Request struct {
	System      string
	User        string
	Model       string // empty means the provider default
	Temperature *float64
}

// Stream yields text deltas in arrival order. Recv returns io.EOF after the
// last delta. Close releases the underlying connection and is safe to call
// more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

type Provider interface {
	Name() string
	// Open starts a streaming completion. An error means nothing was streamed.
	Open(ctx context.Context, req Request) (Stream, error)
}

// Completer runs a single non-streaming completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// New builds the provider selected by cfg.
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg), nil
	case "gemini":
		return NewGemini(cfg), nil
	case "claude":
		return NewClaudeCLI(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// Collect drains s and returns the concatenated text.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
}

// CompleteVia adapts any Provider into a one-shot completion.
func CompleteVia(ctx context.Context, p Provider, req Request) (string, error) {
	if c, ok := p.(Completer); ok {
		return c.Complete(ctx, req)
	}
	s, err := p.Open(ctx, req)
	if err != nil {
		return "", err
	}
	return Collect(s)
}
