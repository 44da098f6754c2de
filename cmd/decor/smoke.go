package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/design"
)

const (
	smokeMessage = "What colors go well with a walnut dining table?"
	smokePrompt  = "A cozy reading nook in a small apartment living room"
)

func newSmokeCmd() *cobra.Command {
	var (
		baseURL string
		token   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Send a sample chat message and design prompt to a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			c := &smokeClient{
				baseURL: strings.TrimRight(baseURL, "/"),
				token:   token,
				timeout: timeout,
				client:  &fasthttp.Client{Name: "decor-smoke"},
			}
			return c.run(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:5000", "server base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (Firebase ID token or static dev token)")
	cmd.Flags().DurationVar(&timeout, "timeout", 90*time.Second, "per-request timeout")
	return cmd
}

type smokeClient struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *fasthttp.Client
}

func (c *smokeClient) run(out io.Writer) error {
	steps := []struct {
		name string
		path string
		body any
	}{
		{"chat", "/api/chat", design.ChatRequest{Message: smokeMessage}},
		{"generate-design", "/api/generate-design", design.Request{Prompt: smokePrompt}},
	}

	for _, s := range steps {
		status, body, err := c.post(s.path, s.body)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		fmt.Fprintf(out, "== %s: HTTP %d\n%s\n", s.name, status, body)
		if status != fasthttp.StatusOK {
			return fmt.Errorf("%s: unexpected status %d", s.name, status)
		}
	}
	return nil
}

func (c *smokeClient) post(path string, body any) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.token)
	req.SetBody(payload)

	if err := c.client.DoTimeout(req, resp, c.timeout); err != nil {
		return 0, "", err
	}
	return resp.StatusCode(), string(resp.Body()), nil
}
