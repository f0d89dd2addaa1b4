package llm

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sync"

	"google.golang.org/genai"

	"github.com/esnunes/prospector/internal/config"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini implements Provider with the Google GenAI SDK.
type Gemini struct {
	apiKey      string
	model       string
	temperature float64

	once      sync.Once
	client    *genai.Client
	clientErr error
}

func NewGemini(cfg config.LLMConfig) *Gemini {
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{apiKey: cfg.APIKey, model: model, temperature: cfg.Temperature}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) getClient(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		g.client, g.clientErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return g.client, g.clientErr
}

func (g *Gemini) Open(ctx context.Context, req Request) (Stream, error) {
	if g.apiKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := g.getClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: creating genai client: %w", ErrRequestFailed, err)
	}

	model := req.Model
	if model == "" {
		model = g.model
	}
	temp := g.temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temp)),
	}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	seq := client.Models.GenerateContentStream(ctx, model, genai.Text(req.User), genCfg)
	next, stop := iter.Pull2(seq)

	// Pull the first response so request failures surface from Open.
	first, err, ok := next()
	if !ok {
		stop()
		return &geminiStream{next: next, stop: stop, done: true}, nil
	}
	if err != nil {
		stop()
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	return &geminiStream{next: next, stop: stop, pending: first}, nil
}

type geminiStream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	pending *genai.GenerateContentResponse
	done    bool
	once    sync.Once
}

func (s *geminiStream) Recv() (string, error) {
	for !s.done {
		resp := s.pending
		s.pending = nil
		if resp == nil {
			var err error
			var ok bool
			resp, err, ok = s.next()
			if !ok {
				s.done = true
				break
			}
			if err != nil {
				s.done = true
				return "", fmt.Errorf("%w: %w", ErrStreamError, err)
			}
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
	return "", io.EOF
}

func (s *geminiStream) Close() error {
	s.once.Do(s.stop)
	return nil
}
