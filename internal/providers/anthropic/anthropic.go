package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerName     = "anthropic"
	defaultMaxTokens = 2048
)

// Provider implements providers.Provider for Anthropic (official SDK).
type Provider struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	client  anthropic.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithTimeout sets the HTTP client timeout for upstream calls.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New creates a new Anthropic Provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		timeout: providers.DefaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}

	p.client = anthropic.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithHTTPClient(&http.Client{Timeout: p.timeout}),
		option.WithMaxRetries(0),
	)
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{
		Limit: anthropic.Int(1),
	})
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", toProviderError(err))
	}
	return nil
}

func (p *Provider) Generate(ctx context.Context, req *providers.GenerateRequest) (string, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Parts))
	for _, pt := range req.Parts {
		if pt.IsInline() {
			blocks = append(blocks, anthropic.NewImageBlockBase64(pt.MIMEType, base64.StdEncoding.EncodeToString(pt.Data)))
			continue
		}
		blocks = append(blocks, anthropic.NewTextBlock(pt.Text))
	}
	return p.send(ctx, req.Model, []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)})
}

func (p *Provider) Chat(ctx context.Context, req *providers.ChatRequest) (string, error) {
	msgs := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, t := range req.History {
		if t.Role == providers.RoleModel {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Text)))
			continue
		}
		msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Message)))
	return p.send(ctx, req.Model, msgs)
}

func (p *Provider) send(ctx context.Context, model string, msgs []anthropic.MessageParam) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultMaxTokens,
		Messages:  msgs,
	})
	if err != nil {
		return "", toProviderError(err)
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case *anthropic.TextBlock:
			sb.WriteString(v.Text)
		}
	}
	return sb.String(), nil
}

// errorEnvelope is the Anthropic error body: {"type":"error","error":{...}}.
type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func toProviderError(err error) error {
	var apierr *anthropic.Error
	if !errors.As(err, &apierr) {
		return err
	}
	pe := &providers.Error{
		Provider:   providerName,
		StatusCode: apierr.StatusCode,
		Message:    http.StatusText(apierr.StatusCode),
	}
	var env errorEnvelope
	if json.Unmarshal([]byte(apierr.RawJSON()), &env) == nil && env.Error.Message != "" {
		pe.Status = env.Error.Type
		pe.Message = env.Error.Message
	}
	if apierr.Response != nil {
		if secs, err := strconv.Atoi(strings.TrimSpace(apierr.Response.Header.Get("Retry-After"))); err == nil && secs >= 0 {
			pe.Details = append(pe.Details, providers.RetryInfoDetail(secs))
		}
	}
	return pe
}
