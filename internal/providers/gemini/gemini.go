// Package gemini implements providers.Provider on top of the official Google
// GenAI SDK. The same client serves the Gemini API (API key) and, when a
// project is configured, Vertex AI (Application Default Credentials).
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
)

const (
	defaultBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	defaultLocation = "us-central1"
	providerName    = "gemini"
)

// Provider implements providers.Provider for Google Gemini.
type Provider struct {
	apiKey   string
	baseURL  string
	timeout  time.Duration
	project  string
	location string
	client   *genai.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing). A trailing
// version segment such as "/v1beta" is split off into the API version.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = u
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

// WithVertex switches the client to the Vertex AI backend for the given
// project. Credentials come from ADC; the API key is ignored.
func WithVertex(project, location string) Option {
	return func(p *Provider) {
		p.project = project
		if location != "" {
			p.location = location
		}
	}
}

// New creates a new Gemini Provider.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if ctx == nil {
		panic("gemini: context must not be nil")
	}
	p := &Provider{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		timeout:  providers.DefaultTimeout,
		location: defaultLocation,
	}
	for _, o := range opts {
		o(p)
	}

	cfg := &genai.ClientConfig{
		HTTPClient: &http.Client{Timeout: p.timeout},
	}
	if p.project != "" {
		cfg.Backend = genai.BackendVertexAI
		cfg.Project = p.project
		cfg.Location = p.location
	} else {
		base, ver := splitBaseURLAndVersion(p.baseURL)
		cfg.APIKey = p.apiKey
		cfg.Backend = genai.BackendGeminiAPI
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: base, APIVersion: ver}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	p.client = client
	return p, nil
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
	if err != nil {
		return fmt.Errorf("gemini: health check: %w", toProviderError(err))
	}
	return nil
}

// Generate sends a single user turn built from req.Parts.
func (p *Provider) Generate(ctx context.Context, req *providers.GenerateRequest) (string, error) {
	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, pt := range req.Parts {
		if pt.IsInline() {
			parts = append(parts, genai.NewPartFromBytes(pt.Data, pt.MIMEType))
			continue
		}
		parts = append(parts, genai.NewPartFromText(pt.Text))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, nil)
	if err != nil {
		return "", toProviderError(err)
	}
	return resp.Text(), nil
}

// Chat replays the history and appends the new message as the final user turn.
func (p *Provider) Chat(ctx context.Context, req *providers.ChatRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, t := range req.History {
		role := genai.Role(genai.RoleUser)
		if t.Role == providers.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, nil)
	if err != nil {
		return "", toProviderError(err)
	}
	return resp.Text(), nil
}

// ListModels implements providers.ModelLister.
func (p *Provider) ListModels(ctx context.Context) ([]providers.ModelInfo, error) {
	var out []providers.ModelInfo
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("gemini: list models: %w", toProviderError(err))
		}
		out = append(out, providers.ModelInfo{
			Name:        strings.TrimPrefix(m.Name, "models/"),
			DisplayName: m.DisplayName,
			Actions:     m.SupportedActions,
		})
	}
	return out, nil
}

func splitBaseURLAndVersion(raw string) (baseURL string, apiVersion string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, ""
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		base := u.String()
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		return base, ""
	}

	parts := strings.Split(path, "/")
	if last := parts[len(parts)-1]; looksLikeAPIVersion(last) {
		apiVersion = last
		parts = parts[:len(parts)-1]
	}

	u.Path = "/" + strings.Join(parts, "/")
	if u.Path == "/" {
		u.Path = ""
	}

	baseURL = u.String()
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL, apiVersion
}

// looksLikeAPIVersion matches "v1", "v1beta", "v1alpha2" and the like.
func looksLikeAPIVersion(s string) bool {
	if !strings.HasPrefix(s, "v") || len(s) < 2 {
		return false
	}
	return s[1] >= '0' && s[1] <= '9'
}

// toProviderError keeps the google.rpc details (RetryInfo, QuotaFailure) that
// the classifier depends on.
func toProviderError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &providers.Error{
			Provider:   providerName,
			StatusCode: apiErr.Code,
			Status:     apiErr.Status,
			Message:    apiErr.Message,
			Details:    apiErr.Details,
		}
	}
	return err
}
