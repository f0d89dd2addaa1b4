package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/esnunes/prospector/internal/config"
)

const defaultOpenAIModel = "gpt-4.1"

// OpenAI implements Provider against an OpenAI-compatible chat completions API.
type OpenAI struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: cfg.Temperature,
		// no client timeout: streams are bounded by the caller's context
		httpClient: &http.Client{},
	}
}

func (c *OpenAI) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Delta   *chatMessage `json:"delta,omitempty"`
		Message *chatMessage `json:"message,omitempty"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAI) buildRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temp := c.temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temp,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

func (c *OpenAI) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	httpReq, err := c.buildRequest(ctx, req, stream)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (c *OpenAI) Open(ctx context.Context, req Request) (Stream, error) {
	resp, err := c.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: resp.Body, scanner: scanner}, nil
}

func (c *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.do(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrRequestFailed, out.Error.Message)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil {
		return "", fmt.Errorf("%w: no completion returned", ErrRequestFailed)
	}
	return out.Choices[0].Message.Content, nil
}

// sseStream decodes "data: {json}" lines of a chat completion stream.
type sseStream struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	done      bool
	closeOnce sync.Once
}

func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("%w: malformed chunk: %w", ErrStreamError, err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("%w: %s", ErrStreamError, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStreamError, err)
	}
	return "", fmt.Errorf("%w: stream ended without [DONE]", ErrStreamError)
}

func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.body.Close() })
	return err
}
