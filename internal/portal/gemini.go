package portal

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

const extractPrompt = "You read text scraped from a pension provider's account page.\n\n" +
	"Task:\n" +
	"- Find the customer's total savings amount.\n" +
	"- Reply with the amount ONLY, formatted as £ followed by digits, comma thousands separators and exactly two decimals, e.g. £12,345.67.\n" +
	"- If no total savings amount is present, reply with NONE.\n" +
	"Do NOT add any other text.\n\n" +
	"Page text:\n"

// GeminiExtractor asks a Gemini model for the savings amount.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

// NewGeminiExtractor creates an extractor. Credentials are taken from the
// environment the same way the genai client always resolves them.
func NewGeminiExtractor(ctx context.Context, model string) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiExtractor{client: client, model: model}, nil
}

// ExtractSavings returns the model's answer, trimmed of code fences.
func (g *GeminiExtractor) ExtractSavings(ctx context.Context, text string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: extractPrompt + text}},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	answer := cleanModelText(resp.Text())
	if answer == "" || strings.EqualFold(answer, "NONE") {
		return "", ErrSavingsNotFound
	}
	return answer, nil
}

func cleanModelText(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
