// Package bulkparse turns free-form text into tile prompts. A model is asked
// for a JSON array; its reply is read strictly, then salvaged, and the raw
// input is split line by line when neither works.
package bulkparse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/esnunes/prospector/internal/llm"
)

const (
	DefaultMaxItems = 50
	MaxItemsCap     = 100
)

var ErrEmptyInput = errors.New("bulkText is required")

type Tier int

const (
	Strict Tier = iota
	Salvaged
	Heuristic
)

func (t Tier) String() string {
	switch t {
	case Strict:
		return "strict"
	case Salvaged:
		return "salvaged"
	case Heuristic:
		return "heuristic"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	for _, c := range []Tier{Strict, Salvaged, Heuristic} {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", b)
}

type Prompt struct {
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

// Result is the outcome of a parse, tagged with the tier that produced it.
type Result struct {
	Tier    Tier     `json:"tier"`
	Prompts []Prompt `json:"prompts"`
}

// ClampMaxItems applies the default to non-positive values and caps the rest.
func ClampMaxItems(n int) int {
	if n <= 0 {
		return DefaultMaxItems
	}
	return min(n, MaxItemsCap)
}

const schemaURL = "mem://prospector/prompts.json"

const promptsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["title", "prompt"],
    "properties": {
      "title": {"type": "string"},
      "prompt": {"type": "string"}
    }
  }
}`

var compiledSchema = SchemaLoader(schemaURL, promptsSchema)

// SchemaLoader returns a func compiling the JSON schema src once, under url.
func SchemaLoader(url, src string) func() (*jsonschema.Schema, error) {
	var (
		once   sync.Once
		schema *jsonschema.Schema
		err    error
	)
	return func() (*jsonschema.Schema, error) {
		once.Do(func() {
			compiler := jsonschema.NewCompiler()
			if err = compiler.AddResource(url, strings.NewReader(src)); err != nil {
				err = fmt.Errorf("add schema resource: %w", err)
				return
			}
			if schema, err = compiler.Compile(url); err != nil {
				err = fmt.Errorf("compile schema: %w", err)
			}
		})
		return schema, err
	}
}

// Decode validates raw against schema, then unmarshals it into out.
func Decode(raw string, schema *jsonschema.Schema, out any) error {
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return err
	}
	if err := schema.Validate(payload); err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

// ArraySpan returns the text between the first '[' and the last ']' of
// content, brackets included.
func ArraySpan(content string) (string, bool) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

func decode(raw string, maxItems int) ([]Prompt, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	var items []Prompt
	if err := Decode(raw, s, &items); err != nil {
		return nil, err
	}
	prompts := make([]Prompt, 0, len(items))
	for _, it := range items {
		p := Prompt{Title: strings.TrimSpace(it.Title), Prompt: strings.TrimSpace(it.Prompt)}
		if p.Title == "" || p.Prompt == "" {
			continue
		}
		prompts = append(prompts, p)
		if len(prompts) == maxItems {
			break
		}
	}
	if len(prompts) == 0 {
		return nil, errors.New("no usable prompts")
	}
	return prompts, nil
}

// ParseStrict reads content as a whole JSON array of {title, prompt}.
func ParseStrict(content string, maxItems int) (Result, error) {
	prompts, err := decode(strings.TrimSpace(content), ClampMaxItems(maxItems))
	if err != nil {
		return Result{}, fmt.Errorf("strict parse: %w", err)
	}
	return Result{Tier: Strict, Prompts: prompts}, nil
}

// ParseSalvaged reads the span between the first '[' and the last ']'.
func ParseSalvaged(content string, maxItems int) (Result, error) {
	span, ok := ArraySpan(content)
	if !ok {
		return Result{}, errors.New("salvage parse: no array found")
	}
	prompts, err := decode(span, ClampMaxItems(maxItems))
	if err != nil {
		return Result{}, fmt.Errorf("salvage parse: %w", err)
	}
	return Result{Tier: Salvaged, Prompts: prompts}, nil
}

// ParseHeuristic yields one prompt per non-empty line of text, titled
// "Item n" from 1.
func ParseHeuristic(text string, maxItems int) Result {
	maxItems = ClampMaxItems(maxItems)
	var prompts []Prompt
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		prompts = append(prompts, Prompt{Title: fmt.Sprintf("Item %d", len(prompts)+1), Prompt: line})
		if len(prompts) == maxItems {
			break
		}
	}
	return Result{Tier: Heuristic, Prompts: prompts}
}

const systemPrompt = `You are a precise parser that extracts a list of prompts from arbitrary user text.
Output only a strict JSON array of objects with keys: title, prompt.
Do not include any extra keys, comments, or prose. Titles should be short (≤ 8 words). Prompts should be 1-3 sentences.
If the input contains numbered lines, bullets, or sections like "Title:" and "Prompt:", interpret each as one prompt.`

const temperature = 0.2

// Parser extracts prompts with a model, falling back tier by tier.
type Parser struct {
	provider llm.Provider // nil means heuristic only
	model    string
	log      *zap.Logger
}

func NewParser(provider llm.Provider, model string, log *zap.Logger) *Parser {
	return &Parser{provider: provider, model: model, log: log}
}

// Parse never fails once bulkText is non-empty: model errors and malformed
// replies fall through to the line heuristic.
func (p *Parser) Parse(ctx context.Context, bulkText string, maxItems int) (Result, error) {
	bulkText = strings.TrimSpace(bulkText)
	if bulkText == "" {
		return Result{}, ErrEmptyInput
	}
	maxItems = ClampMaxItems(maxItems)

	if p.provider == nil {
		return ParseHeuristic(bulkText, maxItems), nil
	}

	temp := temperature
	content, err := llm.CompleteVia(ctx, p.provider, llm.Request{
		System:      systemPrompt,
		User:        fmt.Sprintf("Input text:\n\n%s\n\nTask: Extract up to %d {title, prompt} pairs that represent actionable tiles. Keep JSON compact.", bulkText, maxItems),
		Model:       p.model,
		Temperature: &temp,
	})
	if err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			p.log.Debug("no model credentials, splitting lines")
		} else {
			p.log.Warn("prompt extraction failed, splitting lines", zap.Error(err))
		}
		return ParseHeuristic(bulkText, maxItems), nil
	}

	if res, err := ParseStrict(content, maxItems); err == nil {
		return res, nil
	}
	if res, err := ParseSalvaged(content, maxItems); err == nil {
		return res, nil
	}
	p.log.Warn("model reply was not a prompt list, splitting lines", zap.Int("reply_bytes", len(content)))
	return ParseHeuristic(bulkText, maxItems), nil
}
