package prompt

import (
	"fmt"
	"strings"

	"github.com/esnunes/prospector/internal/models"
)

// SystemPrompt is sent as the fixed system role. The persona lives in the
// user message built by Compose.
const SystemPrompt = "You are an expert business research assistant. " +
	"Answer each question briefly and cite sources inline where possible."

// FormatDirective asks the model to mirror the exemplar's layout.
const FormatDirective = "Please print the answer and format exactly the same."

// ReviseDirective asks the model to revise the previous answer instead of starting over.
const ReviseDirective = "Revise the last answer according to the user refinement. Do not start over."

const noSymbolsDirective = "Please make sure the answer does not include any symbols such as *, # or `."

// Compose builds the user instruction for a tile generation. A nil
// refinement marks a first-time generation; a non-nil one marks a
// refinement turn. Compose never fails.
func Compose(company models.Company, basePrompt, exAnswer, lastAnswer string, refinement *string) string {
	var b strings.Builder

	b.WriteString("I'm an Account Executive researching companies to decide whether they are suitable prospects for outreach.\n")
	b.WriteString(noSymbolsDirective + "\n")
	fmt.Fprintf(&b, "For %s, I have a question I need answered based on web sources from the last 12 months.\n", company.Name)

	for _, f := range []struct{ label, value string }{
		{"Website", company.URL},
		{"Industry", company.Industry},
		{"Product", company.Product},
		{"Ideal customer profile", company.ICP},
		{"Notes", company.Notes},
	} {
		if v := strings.TrimSpace(f.value); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.label, v)
		}
	}

	fmt.Fprintf(&b, "Question: %s\n", basePrompt)

	switch {
	case refinement == nil:
		if exAnswer != "" {
			fmt.Fprintf(&b, "Example Answer: %s\n%s\n", exAnswer, FormatDirective)
		}
	case lastAnswer != "":
		fmt.Fprintf(&b, "Last Answer: %s\nUser Refinement: %s\n%s\n", lastAnswer, *refinement, ReviseDirective)
	default:
		// nothing to revise yet; the refinement is an extra instruction
		fmt.Fprintf(&b, "Additional Instruction: %s\n", *refinement)
	}

	return b.String()
}
