package bulkparse

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/esnunes/prospector/internal/llm"
)

type replyProvider struct {
	reply string
	err   error
	got   llm.Request
}

func (p *replyProvider) Name() string { return "reply" }

func (p *replyProvider) Open(context.Context, llm.Request) (llm.Stream, error) {
	return nil, errors.New("not streaming")
}

func (p *replyProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	p.got = req
	return p.reply, p.err
}

func TestHeuristicOnePerLine(t *testing.T) {
	res := ParseHeuristic("first thing\n\n   \n  second thing  \nthird", 0)
	assert.Equal(t, Heuristic, res.Tier)
	want := []Prompt{
		{Title: "Item 1", Prompt: "first thing"},
		{Title: "Item 2", Prompt: "second thing"},
		{Title: "Item 3", Prompt: "third"},
	}
	if diff := cmp.Diff(want, res.Prompts); diff != "" {
		t.Errorf("prompts mismatch (-want +got):\n%s", diff)
	}
}

func TestHeuristicRespectsMax(t *testing.T) {
	res := ParseHeuristic("a\nb\nc\nd", 2)
	assert.Len(t, res.Prompts, 2)
}

func TestStrict(t *testing.T) {
	res, err := ParseStrict(`[{"title":" Pricing ","prompt":"How do they price?"},{"title":"","prompt":"dropped"}]`, 10)
	require.NoError(t, err)
	assert.Equal(t, Strict, res.Tier)
	assert.Equal(t, []Prompt{{Title: "Pricing", Prompt: "How do they price?"}}, res.Prompts)

	_, err = ParseStrict(`{"title":"x","prompt":"y"}`, 10)
	assert.Error(t, err, "an object is not a list")

	_, err = ParseStrict(`[{"title":"x"}]`, 10)
	assert.Error(t, err, "prompt is required")

	_, err = ParseStrict(`[{"title":1,"prompt":"y"}]`, 10)
	assert.Error(t, err, "title must be a string")
}

func TestSalvaged(t *testing.T) {
	content := "Sure! Here you go:\n```json\n[{\"title\":\"Churn\",\"prompt\":\"Why do customers leave?\"}]\n```"
	_, err := ParseStrict(content, 10)
	require.Error(t, err)

	res, err := ParseSalvaged(content, 10)
	require.NoError(t, err)
	assert.Equal(t, Salvaged, res.Tier)
	assert.Equal(t, []Prompt{{Title: "Churn", Prompt: "Why do customers leave?"}}, res.Prompts)

	_, err = ParseSalvaged("no brackets here", 10)
	assert.Error(t, err)
}

func TestArraySpan(t *testing.T) {
	span, ok := ArraySpan("x [1, [2]] y")
	assert.True(t, ok)
	assert.Equal(t, "[1, [2]]", span)

	_, ok = ArraySpan("] backwards [")
	assert.False(t, ok)
}

func TestClampMaxItems(t *testing.T) {
	assert.Equal(t, 50, ClampMaxItems(0))
	assert.Equal(t, 50, ClampMaxItems(-3))
	assert.Equal(t, 7, ClampMaxItems(7))
	assert.Equal(t, 100, ClampMaxItems(500))
}

func TestParserTiers(t *testing.T) {
	input := "Pricing: how do they price\nChurn: why do customers leave"
	tests := []struct {
		name  string
		reply string
		err   error
		want  Tier
	}{
		{"strict", `[{"title":"Pricing","prompt":"How do they price?"}]`, nil, Strict},
		{"salvaged", `Here: [{"title":"Pricing","prompt":"How do they price?"}] done`, nil, Salvaged},
		{"garbage reply", `I cannot help with that`, nil, Heuristic},
		{"model error", "", errors.New("503"), Heuristic},
		{"no credentials", "", llm.ErrNotConfigured, Heuristic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(&replyProvider{reply: tt.reply, err: tt.err}, "", zap.NewNop())
			res, err := p.Parse(context.Background(), input, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Tier)
			assert.NotEmpty(t, res.Prompts)
			if tt.want == Heuristic {
				assert.Len(t, res.Prompts, 2)
				assert.Equal(t, "Item 2", res.Prompts[1].Title)
			}
		})
	}
}

func TestParserRequest(t *testing.T) {
	provider := &replyProvider{reply: `[]`}
	p := NewParser(provider, "gpt-4o-mini", zap.NewNop())

	res, err := p.Parse(context.Background(), "only line", 500)
	require.NoError(t, err)
	assert.Equal(t, Heuristic, res.Tier, "an empty list falls through")

	assert.Equal(t, "gpt-4o-mini", provider.got.Model)
	require.NotNil(t, provider.got.Temperature)
	assert.InDelta(t, 0.2, *provider.got.Temperature, 1e-9)
	assert.Contains(t, provider.got.User, "Extract up to 100")
	assert.Contains(t, provider.got.User, "only line")
}

func TestParserWithoutProvider(t *testing.T) {
	p := NewParser(nil, "", zap.NewNop())
	res, err := p.Parse(context.Background(), "a\nb", 0)
	require.NoError(t, err)
	assert.Equal(t, Heuristic, res.Tier)

	_, err = p.Parse(context.Background(), "   ", 0)
	assert.ErrorIs(t, err, ErrEmptyInput)
}
