package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
)

func newTestProvider(srv *httptest.Server) *Provider {
	return New("mock-api-key", WithBaseURL(srv.URL))
}

func completionBody(text string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-123",
		"object":  "chat.completion",
		"created": 0,
		"model":   "gpt-4o",
		"choices": []any{
			map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": "stop",
			},
		},
	}
}

// chatBody is the subset of the request the tests inspect. Content is raw
// because it is a string for plain turns and an array for multimodal ones.
type chatBody struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

func TestProvider_Name(t *testing.T) {
	if New("key").Name() != "openai" {
		t.Fatal("expected 'openai'")
	}
}

func TestProvider_Generate_ImageAsDataURI(t *testing.T) {
	var captured chatBody

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			t.Errorf("expected path to start with /v1/, got %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer mock-api-key" {
			t.Errorf("missing or wrong Authorization header: %s", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody(`{"concept":"Loft"}`))
	}))
	defer srv.Close()

	p := newTestProvider(srv)
	out, err := p.Generate(context.Background(), &providers.GenerateRequest{
		Model: "gpt-4o",
		Parts: []providers.Part{
			{MIMEType: "image/jpeg", Data: []byte("jpeg-bytes")},
			{Text: "modernise this"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"concept":"Loft"}` {
		t.Errorf("unexpected content %q", out)
	}
	if captured.Model != "gpt-4o" || len(captured.Messages) != 1 {
		t.Fatalf("unexpected request %+v", captured)
	}

	wantURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	if !strings.Contains(string(captured.Messages[0].Content), wantURI) {
		t.Errorf("expected image data URI in content, got %s", captured.Messages[0].Content)
	}
	if !strings.Contains(string(captured.Messages[0].Content), "modernise this") {
		t.Errorf("expected prompt text in content, got %s", captured.Messages[0].Content)
	}
}

func TestProvider_Chat_Roles(t *testing.T) {
	var captured chatBody

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody("Use warm whites."))
	}))
	defer srv.Close()

	reply, err := newTestProvider(srv).Chat(context.Background(), &providers.ChatRequest{
		Model: "gpt-4o",
		History: []providers.Turn{
			{Role: providers.RoleUser, Text: "hi"},
			{Role: providers.RoleModel, Text: "hello"},
		},
		Message: "lighting?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Use warm whites." {
		t.Errorf("unexpected reply %q", reply)
	}

	want := []string{"user", "assistant", "user"}
	if len(captured.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(captured.Messages))
	}
	for i, role := range want {
		if captured.Messages[i].Role != role {
			t.Errorf("messages[%d].role = %q, want %q", i, captured.Messages[i].Role, role)
		}
	}
}

func TestProvider_RateLimit_RetryAfterBecomesDetail(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "Rate limit exceeded",
				"type":    "rate_limit_error",
				"code":    "rate_limit_exceeded",
			},
		})
	}))
	defer srv.Close()

	_, err := newTestProvider(srv).Generate(context.Background(), &providers.GenerateRequest{
		Model: "gpt-4o",
		Parts: []providers.Part{{Text: "hi"}},
	})
	provErr, ok := providers.AsError(err)
	if !ok {
		t.Fatalf("expected *providers.Error, got %T: %v", err, err)
	}
	if provErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", provErr.StatusCode)
	}
	if calls != 1 {
		t.Errorf("expected a single upstream call, got %d", calls)
	}
	if len(provErr.Details) != 1 || provErr.Details[0]["retryDelay"] != "17s" {
		t.Errorf("expected synthesized RetryInfo 17s, got %v", provErr.Details)
	}
}

func TestProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Service unavailable", "type": "server_error"},
		})
	}))
	defer srv.Close()

	_, err := newTestProvider(srv).Chat(context.Background(), &providers.ChatRequest{Model: "gpt-4o", Message: "hi"})
	provErr, ok := providers.AsError(err)
	if !ok {
		t.Fatalf("expected *providers.Error, got %T: %v", err, err)
	}
	if provErr.HTTPStatus() != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", provErr.HTTPStatus())
	}
	if len(provErr.Details) != 0 {
		t.Errorf("expected no details without Retry-After, got %v", provErr.Details)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	if n, ok := retryAfterSeconds(" 30 "); !ok || n != 30 {
		t.Errorf("expected 30, got %d %v", n, ok)
	}
	if _, ok := retryAfterSeconds("Wed, 21 Oct 2015 07:28:00 GMT"); ok {
		t.Error("HTTP-date form is not supported")
	}
	if _, ok := retryAfterSeconds(""); ok {
		t.Error("empty header must not parse")
	}
}
