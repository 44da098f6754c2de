package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

type Provider struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	client  openaiSDK.Client
}

type Option func(*Provider)

func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		timeout: providers.DefaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}

	httpClient := &http.Client{Timeout: p.timeout}
	if p.baseURL != defaultBaseURL {
		httpClient.Transport = newBaseURLTransport(http.DefaultTransport, p.baseURL)
	}

	// Retries are disabled: a 429 must reach the cooldown governor at once.
	p.client = openaiSDK.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai: health check: %w", toProviderError(err))
	}
	return nil
}

func (p *Provider) Generate(ctx context.Context, req *providers.GenerateRequest) (string, error) {
	parts := make([]openaiSDK.ChatCompletionContentPartUnionParam, 0, len(req.Parts))
	for _, pt := range req.Parts {
		if pt.IsInline() {
			parts = append(parts, openaiSDK.ImageContentPart(openaiSDK.ChatCompletionContentPartImageImageURLParam{
				URL: dataURI(pt.MIMEType, pt.Data),
			}))
			continue
		}
		parts = append(parts, openaiSDK.TextContentPart(pt.Text))
	}

	return p.complete(ctx, openaiSDK.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: []openaiSDK.ChatCompletionMessageParamUnion{openaiSDK.UserMessage(parts)},
	})
}

func (p *Provider) Chat(ctx context.Context, req *providers.ChatRequest) (string, error) {
	msgs := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	for _, t := range req.History {
		if t.Role == providers.RoleModel {
			msgs = append(msgs, openaiSDK.AssistantMessage(t.Text))
			continue
		}
		msgs = append(msgs, openaiSDK.UserMessage(t.Text))
	}
	msgs = append(msgs, openaiSDK.UserMessage(req.Message))

	return p.complete(ctx, openaiSDK.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: msgs,
	})
}

func (p *Provider) complete(ctx context.Context, params openaiSDK.ChatCompletionNewParams) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", toProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func toProviderError(err error) error {
	var apierr *openaiSDK.Error
	if !errors.As(err, &apierr) {
		return err
	}
	pe := &providers.Error{
		Provider:   providerName,
		StatusCode: apierr.StatusCode,
		Status:     apierr.Type,
		Message:    apierr.Message,
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(apierr.StatusCode)
	}
	if apierr.Response != nil {
		if secs, ok := retryAfterSeconds(apierr.Response.Header.Get("Retry-After")); ok {
			pe.Details = append(pe.Details, providers.RetryInfoDetail(secs))
		}
	}
	return pe
}

// retryAfterSeconds parses the delta-seconds form of Retry-After.
func retryAfterSeconds(v string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

type baseURLTransport struct {
	base *url.URL
	rt   http.RoundTripper
}

func newBaseURLTransport(next http.RoundTripper, base string) http.RoundTripper {
	u, err := url.Parse(base)
	if err != nil {
		return next
	}
	return &baseURLTransport{base: u, rt: next}
}

func (t *baseURLTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	u2 := *req.URL

	u2.Scheme = t.base.Scheme
	u2.Host = t.base.Host

	basePath := strings.TrimRight(t.base.Path, "/")
	if basePath != "" && !strings.HasPrefix(u2.Path, basePath+"/") && u2.Path != basePath {
		u2.Path = basePath + "/" + strings.TrimLeft(u2.Path, "/")
	}

	r2.URL = &u2
	return t.rt.RoundTrip(r2)
}
