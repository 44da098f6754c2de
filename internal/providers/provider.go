// Package providers defines the common interfaces and types used by the
// generative-AI backends (Gemini, OpenAI, Anthropic).
//
// Each provider lives in its own sub-package and implements the Provider
// interface. Every provider normalizes its SDK failures into *Error so the
// failure classifier can inspect status, message and structured details
// without knowing which SDK produced them.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Roles used in chat history. RoleModel is the assistant side.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Google RPC detail type URLs carried in Error.Details.
const (
	TypeRetryInfo    = "type.googleapis.com/google.rpc.RetryInfo"
	TypeQuotaFailure = "type.googleapis.com/google.rpc.QuotaFailure"
)

// DefaultTimeout is the upstream HTTP client timeout when none is configured.
const DefaultTimeout = 60 * time.Second

type (
	// Part is one element of a multimodal request: either text or inline
	// binary data with its MIME type.
	Part struct {
		Text     string
		MIMEType string
		Data     []byte
	}

	// Turn is a single chat message (role + text).
	Turn struct {
		Role string
		Text string
	}

	// GenerateRequest asks for a single completion over the given parts.
	GenerateRequest struct {
		Model string
		Parts []Part
	}

	// ChatRequest continues a conversation. History is sent verbatim before
	// Message.
	ChatRequest struct {
		Model   string
		History []Turn
		Message string
	}

	// ModelInfo describes a model visible to the configured credential.
	ModelInfo struct {
		Name        string
		DisplayName string
		Actions     []string
	}
)

// IsInline reports whether the part carries binary data.
func (p Part) IsInline() bool { return len(p.Data) > 0 }

// Provider is a generative-AI backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *GenerateRequest) (string, error)
	Chat(ctx context.Context, req *ChatRequest) (string, error)
	HealthCheck(ctx context.Context) error
}

// ModelLister is an optional interface implemented by providers that can
// enumerate their models. Check with a type assertion before calling.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// StatusCoder is implemented by errors that map onto an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// Error is the normalized upstream failure shared by all providers.
// Details mirrors the google.rpc detail list ("@type" keyed maps); providers
// that only expose a Retry-After header synthesize a RetryInfo entry.
type Error struct {
	Provider   string
	StatusCode int
	Status     string
	Message    string
	Details    []map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (status=%d)", e.Provider, e.Message, e.StatusCode)
}

// HTTPStatus implements StatusCoder.
func (e *Error) HTTPStatus() int { return e.StatusCode }

// AsError unwraps err into a provider *Error when possible.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// RetryInfoDetail builds a RetryInfo detail entry for a delay in whole seconds.
func RetryInfoDetail(seconds int) map[string]any {
	return map[string]any{
		"@type":      TypeRetryInfo,
		"retryDelay": fmt.Sprintf("%ds", seconds),
	}
}
