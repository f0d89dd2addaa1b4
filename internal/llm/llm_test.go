package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/prospector/internal/config"
)

func sseServer(t *testing.T, handler func(w http.ResponseWriter, body chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeDeltas(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, d := range deltas {
		b, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"delta": map[string]string{"content": d}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", b)
	}
}

func openAIFor(srv *httptest.Server) *OpenAI {
	return NewOpenAI(config.LLMConfig{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "gpt-test", Temperature: 1})
}

func TestOpenAIStreamsDeltasInOrder(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, body chatRequest) {
		assert.True(t, body.Stream)
		assert.Equal(t, "gpt-test", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)

		writeDeltas(w, "Acme", " sells", " subscriptions.")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	s, err := openAIFor(srv).Open(context.Background(), Request{System: "sys", User: "q"})
	require.NoError(t, err)
	defer s.Close()

	var got []string
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk)
	}
	assert.Equal(t, []string{"Acme", " sells", " subscriptions."}, got)
}

func TestOpenAIStreamWithoutDoneIsAnError(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, _ chatRequest) {
		writeDeltas(w, "partial")
	})

	s, err := openAIFor(srv).Open(context.Background(), Request{User: "q"})
	require.NoError(t, err)

	text, err := Collect(s)
	assert.Equal(t, "partial", text)
	assert.ErrorIs(t, err, ErrStreamError)
}

func TestOpenAIStreamErrorEvent(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, _ chatRequest) {
		fmt.Fprint(w, `data: {"error":{"message":"overloaded"}}`+"\n\n")
	})

	s, err := openAIFor(srv).Open(context.Background(), Request{User: "q"})
	require.NoError(t, err)
	_, err = Collect(s)
	require.ErrorIs(t, err, ErrStreamError)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestOpenAINonOKFailsBeforeStreaming(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, _ chatRequest) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	})

	_, err := openAIFor(srv).Open(context.Background(), Request{User: "q"})
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "401")
}

func TestOpenAIMissingKey(t *testing.T) {
	p := NewOpenAI(config.LLMConfig{})
	_, err := p.Open(context.Background(), Request{User: "q"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = p.Complete(context.Background(), Request{User: "q"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOpenAIComplete(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, body chatRequest) {
		assert.False(t, body.Stream)
		assert.Equal(t, "gpt-mini", body.Model)
		assert.InDelta(t, 0.2, body.Temperature, 1e-9)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"[]"}}]}`)
	})

	temp := 0.2
	out, err := CompleteVia(context.Background(), openAIFor(srv), Request{User: "q", Model: "gpt-mini", Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestGeminiMissingKey(t *testing.T) {
	_, err := NewGemini(config.LLMConfig{}).Open(context.Background(), Request{User: "q"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClaudeCLIMissingBinary(t *testing.T) {
	c := NewClaudeCLI(config.LLMConfig{})
	c.bin = "claude-binary-that-does-not-exist"
	_, err := c.Open(context.Background(), Request{User: "q"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNew(t *testing.T) {
	for _, name := range []string{"openai", "gemini", "claude"} {
		p, err := New(config.LLMConfig{Provider: name})
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
	}
	_, err := New(config.LLMConfig{Provider: "bard"})
	assert.Error(t, err)
}
