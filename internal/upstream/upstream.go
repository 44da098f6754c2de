// Package upstream turns design and chat requests into provider calls: it
// owns the prompt template, image decoding and response parsing.
package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/design"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

const promptTemplate = `
You are an expert interior designer.

User request:
"%s"

Return STRICT JSON ONLY.
No markdown.
No backticks.

Format:
{
  "concept": "Short title",
  "colorPalette": ["Color + hex"],
  "furniture": ["Item 1", "Item 2"],
  "lighting": "Description",
  "layout": "Description",
  "decor": "Description",
  "image": "URL"
}
`

// Chat conversations always start with these two turns.
var seedTurns = []providers.Turn{
	{Role: providers.RoleUser, Text: "You are an expert interior design assistant. Help the user with design advice, color matching, and furniture selection. Keep answers concise and helpful."},
	{Role: providers.RoleModel, Text: "Understood. I am ready to help with professional interior design advice."},
}

var dataURIRe = regexp.MustCompile(`^data:image/(\w+);base64,(.+)$`)

// Gateway calls one provider with one model.
type Gateway struct {
	provider providers.Provider
	model    string
}

// New returns a Gateway. An empty model selects DefaultModel.
func New(p providers.Provider, model string) *Gateway {
	if model == "" {
		model = DefaultModel
	}
	return &Gateway{provider: p, model: model}
}

// Model is the configured model id; it is also the Source of successful
// payloads.
func (g *Gateway) Model() string { return g.model }

// Provider exposes the underlying provider for health checks.
func (g *Gateway) Provider() providers.Provider { return g.provider }

// BuildPrompt renders the design instruction for prompt.
func BuildPrompt(prompt string) string {
	return fmt.Sprintf(promptTemplate, prompt)
}

// DecodeImage extracts the MIME type and bytes of a data URI. ok is false
// when image does not look like a base64 image data URI; such images are
// ignored.
func DecodeImage(image string) (part providers.Part, ok bool, err error) {
	m := dataURIRe.FindStringSubmatch(image)
	if m == nil {
		return providers.Part{}, false, nil
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return providers.Part{}, false, fmt.Errorf("upstream: decode image: %w", err)
	}
	return providers.Part{MIMEType: "image/" + m[1], Data: data}, true, nil
}

// GenerateText sends the design prompt (and image, placed first) and returns
// the raw model text. Provider errors are returned unchanged.
func (g *Gateway) GenerateText(ctx context.Context, prompt, image string) (string, error) {
	parts := []providers.Part{{Text: BuildPrompt(prompt)}}
	if image != "" {
		img, ok, err := DecodeImage(image)
		if err != nil {
			return "", err
		}
		if ok {
			parts = append([]providers.Part{img}, parts...)
		}
	}
	return g.provider.Generate(ctx, &providers.GenerateRequest{Model: g.model, Parts: parts})
}

// Generate is GenerateText followed by design.Parse. Unparseable output is a
// raw-text success, not an error.
func (g *Gateway) Generate(ctx context.Context, prompt, image string) (design.Data, error) {
	text, err := g.GenerateText(ctx, prompt, image)
	if err != nil {
		return design.Data{}, err
	}
	return design.Parse(text), nil
}

// Chat continues a conversation after the seeded assistant instructions.
func (g *Gateway) Chat(ctx context.Context, message string, history []design.ChatTurn) (string, error) {
	turns := make([]providers.Turn, 0, len(seedTurns)+len(history))
	turns = append(turns, seedTurns...)
	for _, h := range history {
		role := providers.RoleUser
		if h.Role == "ai" {
			role = providers.RoleModel
		}
		turns = append(turns, providers.Turn{Role: role, Text: h.Text})
	}
	return g.provider.Chat(ctx, &providers.ChatRequest{Model: g.model, History: turns, Message: message})
}
