// Package contacts suggests likely decision makers at a company. Without
// model credentials it answers with placeholder contacts so callers keep
// working in development.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/esnunes/prospector/internal/bulkparse"
	"github.com/esnunes/prospector/internal/llm"
)

const (
	DefaultCount = 5
	MaxCount     = 20
	temperature  = 0.4
)

var (
	ErrMissingCompany = errors.New("companyName is required")
	ErrModel          = errors.New("contact suggestion failed")
)

type Contact struct {
	Name     string `json:"name,omitempty"`
	Title    string `json:"title,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type Request struct {
	CompanyName string `json:"companyName"`
	CompanyURL  string `json:"companyUrl,omitempty"`
	Count       int    `json:"count,omitempty"`
}

const schemaURL = "mem://prospector/contacts.json"

const contactsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "name": {"type": "string"},
      "title": {"type": "string"},
      "email": {"type": "string"},
      "phone": {"type": "string"},
      "linkedin": {"type": "string"},
      "notes": {"type": "string"}
    }
  }
}`

var compiledSchema = bulkparse.SchemaLoader(schemaURL, contactsSchema)

const systemPrompt = `You are a helpful assistant that suggests likely contacts for a company with minimal hallucination. Output strict JSON array with objects using keys: name, title, email, phone, linkedin, notes. Keep values short and plausible. If unknown, omit the field.`

type Suggester struct {
	provider llm.Provider // nil means placeholders only
	model    string
	log      *zap.Logger
}

func NewSuggester(provider llm.Provider, model string, log *zap.Logger) *Suggester {
	return &Suggester{provider: provider, model: model, log: log}
}

// Suggest asks the model for req.Count contacts. A reply that holds no
// readable array yields an empty list rather than an error.
func (s *Suggester) Suggest(ctx context.Context, req Request) ([]Contact, error) {
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	if req.CompanyName == "" {
		return nil, ErrMissingCompany
	}
	req.Count = clampCount(req.Count)

	if s.provider == nil {
		return Placeholders(req.CompanyName, req.Count), nil
	}

	user := fmt.Sprintf("Company: %s", req.CompanyName)
	if req.CompanyURL != "" {
		user += "\nWebsite: " + req.CompanyURL
	}
	user += fmt.Sprintf("\nGenerate %d plausible contacts (decision makers).", req.Count)

	temp := temperature
	content, err := llm.CompleteVia(ctx, s.provider, llm.Request{
		System:      systemPrompt,
		User:        user,
		Model:       s.model,
		Temperature: &temp,
	})
	if errors.Is(err, llm.ErrNotConfigured) {
		s.log.Debug("no model credentials, returning placeholder contacts")
		return Placeholders(req.CompanyName, req.Count), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModel, err)
	}

	contacts, err := Parse(content)
	if err != nil {
		s.log.Warn("model reply was not a contact list", zap.Int("reply_bytes", len(content)), zap.Error(err))
		return []Contact{}, nil
	}
	return contacts, nil
}

// Parse reads a JSON array of contacts from a model reply, first whole and
// then from the outermost brackets.
func Parse(content string) ([]Contact, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	var contacts []Contact
	err = bulkparse.Decode(strings.TrimSpace(content), schema, &contacts)
	if err == nil {
		return contacts, nil
	}
	span, ok := bulkparse.ArraySpan(content)
	if !ok {
		return nil, err
	}
	contacts = nil
	if err := bulkparse.Decode(span, schema, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// Placeholders returns n made-up contacts at company.
func Placeholders(company string, n int) []Contact {
	contacts := make([]Contact, n)
	for i := range contacts {
		contacts[i] = Contact{
			Name:     fmt.Sprintf("Contact %d at %s", i+1, company),
			Title:    "Head of Sales",
			Email:    fmt.Sprintf("contact%d@example.com", i+1),
			LinkedIn: "https://www.linkedin.com/in/example",
			Notes:    "Placeholder contact (configure model credentials to enable real data)",
		}
	}
	return contacts
}

func clampCount(n int) int {
	if n <= 0 {
		return DefaultCount
	}
	return min(n, MaxCount)
}
