package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// GeminiClassifier asks a Gemini model to categorize rows.
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

// NewGeminiClassifier creates a classifier using application default
// credentials or GOOGLE_API_KEY, whichever genai finds.
func NewGeminiClassifier(ctx context.Context, model string) (*GeminiClassifier, error) {
	if model == "" {
		model = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClassifier: create genai client: %w", err)
	}
	return &GeminiClassifier{client: client, model: model}, nil
}

// Classify sends one batch to the model.
func (g *GeminiClassifier) Classify(ctx context.Context, items []Item) (map[string]Suggestion, error) {
	if len(items) == 0 {
		return map[string]Suggestion{}, nil
	}

	prompt, err := buildPrompt(items)
	if err != nil {
		return nil, fmt.Errorf("Classify: %w", err)
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	temperature := float32(0.1)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("Classify: generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("Classify: empty response from model: %w", ErrMalformedResponse)
	}
	out, err := parseSuggestions(raw)
	if err != nil {
		return nil, fmt.Errorf("Classify: %w", err)
	}
	return out, nil
}

const systemPrompt = "You are a bookkeeping assistant.\n" +
	"- For each row, standardize the vendor name (strip store numbers and codes).\n" +
	"- Map each row to exactly one category from the list below.\n" +
	"- Flag duplicates or unusual charges in \"notes\" with a short reason, otherwise use \"\".\n" +
	"- Copy \"rowhash\" from the input unchanged.\n\n"

const outputRules = "Return ONLY a compact JSON object with key \"rows\":\n" +
	"  {\"rows\": [{\"rowhash\": string, \"vendor\": string, \"suggested_category\": string, \"notes\": string}]}\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Do NOT use ```json or any Markdown.\n" +
	"Output must begin with \"{\" and end with \"}\".\n"

type promptRow struct {
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	RowHash     string  `json:"rowhash"`
}

func buildPrompt(items []Item) (string, error) {
	rows := make([]promptRow, 0, len(items))
	for _, it := range items {
		amount, _ := it.Amount.Round(2).Float64()
		rows = append(rows, promptRow{
			Date:        it.Date.String(),
			Description: it.Description,
			Amount:      amount,
			RowHash:     it.ContentHash,
		})
	}
	payload, err := json.Marshal(map[string]interface{}{"rows": rows})
	if err != nil {
		return "", fmt.Errorf("buildPrompt: marshal rows: %w", err)
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("Categories: ")
	b.WriteString(strings.Join(Categories, ", "))
	b.WriteString("\n\n")
	b.WriteString(outputRules)
	b.WriteString("\nInput:\n")
	b.Write(payload)
	return b.String(), nil
}

type modelRow struct {
	RowHash           string `json:"rowhash"`
	Vendor            string `json:"vendor"`
	SuggestedCategory string `json:"suggested_category"`
	Notes             string `json:"notes"`
}

// parseSuggestions decodes the model answer. Unknown categories become the
// fallback and rows without a hash are ignored.
func parseSuggestions(raw string) (map[string]Suggestion, error) {
	var body struct {
		Rows []modelRow `json:"rows"`
	}
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &body); err != nil {
		return nil, fmt.Errorf("parseSuggestions: %v: %w", err, ErrMalformedResponse)
	}

	out := make(map[string]Suggestion, len(body.Rows))
	for _, r := range body.Rows {
		if r.RowHash == "" {
			continue
		}
		cat := strings.TrimSpace(r.SuggestedCategory)
		if !ValidCategory(cat) {
			cat = FallbackCategory
		}
		out[r.RowHash] = Suggestion{
			Vendor:   sanitize(r.Vendor, 120),
			Category: cat,
			Notes:    sanitize(r.Notes, 200),
		}
	}
	return out, nil
}

// cleanModelJSON strips Markdown fences and any text around the JSON object
// when the model ignored the output rules.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
