// Package providertest provides a scripted in-memory provider for tests.
package providertest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
)

// Fake is a providers.Provider whose replies are set by the test.
// Generate and Chat block on Gate when it is non-nil.
type Fake struct {
	mu sync.Mutex

	Text      string
	Err       error
	HealthErr error
	Gate      chan struct{}

	generateCalls atomic.Int64
	chatCalls     atomic.Int64
	lastGenerate  *providers.GenerateRequest
	lastChat      *providers.ChatRequest
}

var _ providers.Provider = (*Fake)(nil)

func (f *Fake) Name() string { return "fake" }

func (f *Fake) HealthCheck(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HealthErr
}

// Set replaces the scripted reply.
func (f *Fake) Set(text string, err error) {
	f.mu.Lock()
	f.Text, f.Err = text, err
	f.mu.Unlock()
}

// SetHealth replaces the HealthCheck result.
func (f *Fake) SetHealth(err error) {
	f.mu.Lock()
	f.HealthErr = err
	f.mu.Unlock()
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Gate == nil {
		return nil
	}
	select {
	case <-f.Gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) Generate(ctx context.Context, req *providers.GenerateRequest) (string, error) {
	f.generateCalls.Add(1)
	f.mu.Lock()
	f.lastGenerate = req
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Text, f.Err
}

func (f *Fake) Chat(ctx context.Context, req *providers.ChatRequest) (string, error) {
	f.chatCalls.Add(1)
	f.mu.Lock()
	f.lastChat = req
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Text, f.Err
}

// GenerateCalls is the number of Generate invocations so far.
func (f *Fake) GenerateCalls() int { return int(f.generateCalls.Load()) }

// ChatCalls is the number of Chat invocations so far.
func (f *Fake) ChatCalls() int { return int(f.chatCalls.Load()) }

// LastGenerate returns the most recent Generate request.
func (f *Fake) LastGenerate() *providers.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastGenerate
}

// LastChat returns the most recent Chat request.
func (f *Fake) LastChat() *providers.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastChat
}
