// Package mockupstream simulates the Gemini generateContent API for local
// development and end-to-end tests without real credentials.
//
// The genai SDK talks to:
//
//	POST {base}/v1beta/models/{model}:generateContent
//	GET  {base}/v1beta/models   (list models, used by health checks)
//
// A request with a single content entry is treated as a design request and
// answered with a concept; longer conversations get a chat reply.
package mockupstream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
)

// Mode selects how the mock answers generateContent calls.
type Mode string

const (
	ModeOK        Mode = "ok"        // strict JSON concept
	ModeFenced    Mode = "fenced"    // concept wrapped in a ```json fence
	ModeRaw       Mode = "raw"       // free text that is not a concept
	ModeRateLimit Mode = "ratelimit" // 429 with RetryInfo
	ModeDaily     Mode = "daily"     // 429 with a per-day QuotaFailure
	ModeError     Mode = "error"     // 500 INTERNAL
)

// Modes lists every supported mode.
var Modes = []Mode{ModeOK, ModeFenced, ModeRaw, ModeRateLimit, ModeDaily, ModeError}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("mockupstream: unknown mode %q", s)
}

const (
	// DailyQuotaID is the quota id reported in ModeDaily.
	DailyQuotaID = "GenerateRequestsPerDayPerProjectPerModel-FreeTier"

	// MockConcept is the concept title returned in ModeOK and ModeFenced.
	MockConcept = "Mock Coastal Retreat"

	// ChatReply is the reply returned for chat conversations.
	ChatReply = "Try layering warm neutrals with a single bold accent."
)

// Config tunes the mock.
type Config struct {
	Mode       Mode
	Latency    time.Duration
	RetryAfter time.Duration // RetryInfo delay for ModeRateLimit
	Logger     *slog.Logger
}

// Server is an http.Handler simulating the Gemini API.
type Server struct {
	mu   sync.RWMutex
	mode Mode

	latency    time.Duration
	retryAfter time.Duration
	calls      atomic.Int64
	log        *slog.Logger
	mux        *http.ServeMux
}

// New returns a Server. Zero values select ModeOK, no latency and a 30s
// retry hint.
func New(cfg Config) *Server {
	if cfg.Mode == "" {
		cfg.Mode = ModeOK
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		mode:       cfg.Mode,
		latency:    cfg.Latency,
		retryAfter: cfg.RetryAfter,
		log:        cfg.Logger,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1beta/models/", s.handleModel)
	s.mux.HandleFunc("/v1beta/models", s.handleList)
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "mock: unknown path "+r.URL.Path, nil)
	})
	return s
}

// SetMode switches the behaviour of subsequent calls.
func (s *Server) SetMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// Mode returns the current mode.
func (s *Server) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Calls is the number of generateContent requests served.
func (s *Server) Calls() int64 { return s.calls.Load() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type generateBody struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if !strings.HasSuffix(path, ":generateContent") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "mock: unknown path "+path, nil)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "INVALID_ARGUMENT", "method not allowed", nil)
		return
	}

	var body generateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "mock: invalid body", nil)
		return
	}

	s.calls.Add(1)
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-r.Context().Done():
			return
		}
	}

	mode := s.Mode()
	model := extractModel(path)
	s.log.Debug("mock generateContent",
		slog.String("model", model),
		slog.String("mode", string(mode)),
		slog.Int("contents", len(body.Contents)),
	)

	switch mode {
	case ModeRateLimit:
		writeError(w, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "Resource has been exhausted (e.g. check quota).",
			[]map[string]any{{
				"@type":      providers.TypeRetryInfo,
				"retryDelay": fmt.Sprintf("%ds", int(s.retryAfter.Seconds())),
			}})
		return
	case ModeDaily:
		writeError(w, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "You exceeded your current quota.",
			[]map[string]any{{
				"@type": providers.TypeQuotaFailure,
				"violations": []map[string]any{{
					"quotaMetric": "generativelanguage.googleapis.com/generate_content_free_tier_requests",
					"quotaId":     DailyQuotaID,
				}},
			}})
		return
	case ModeError:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "mock internal error", nil)
		return
	}

	writeCandidate(w, model, s.replyText(mode, len(body.Contents) > 1))
}

func (s *Server) replyText(mode Mode, chat bool) string {
	if chat {
		return ChatReply
	}
	switch mode {
	case ModeFenced:
		return "```json\n" + conceptJSON() + "\n```"
	case ModeRaw:
		return "A bright Scandinavian space with pale oak floors and linen textiles."
	default:
		return conceptJSON()
	}
}

func conceptJSON() string {
	b, _ := json.Marshal(map[string]any{
		"concept":      MockConcept,
		"colorPalette": []string{"Sea Salt #F2EFE9", "Driftwood #A89F91", "Harbor Blue #4A6C8C"},
		"furniture":    []string{"Slipcovered Sofa", "Rattan Lounge Chair", "Reclaimed Wood Table"},
		"lighting":     "Diffused daylight with woven pendant lamps",
		"layout":       "Open plan oriented toward the windows",
		"decor":        "Sea glass accents and striped cotton throws",
		"image":        "https://images.unsplash.com/photo-1505691938895-1758d7feb511",
	})
	return string(b)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models": []map[string]any{
			{
				"name":                       "models/gemini-1.5-flash",
				"displayName":                "Gemini 1.5 Flash",
				"supportedGenerationMethods": []string{"generateContent", "countTokens"},
			},
			{
				"name":                       "models/gemini-2.0-flash",
				"displayName":                "Gemini 2.0 Flash",
				"supportedGenerationMethods": []string{"generateContent"},
			},
		},
	})
}

func writeCandidate(w http.ResponseWriter, model, text string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]string{{"text": text}},
			},
			"finishReason": "STOP",
			"index":        0,
		}},
		"modelVersion": model,
	})
}

func writeError(w http.ResponseWriter, status int, rpcStatus, msg string, details []map[string]any) {
	e := map[string]any{
		"code":    status,
		"message": msg,
		"status":  rpcStatus,
	}
	if len(details) > 0 {
		e["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": e})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// extractModel pulls the model name out of /v1beta/models/{model}:generateContent.
func extractModel(path string) string {
	const prefix = "/v1beta/models/"
	if idx := strings.Index(path, prefix); idx >= 0 {
		rest := path[idx+len(prefix):]
		if col := strings.Index(rest, ":"); col >= 0 {
			return rest[:col]
		}
		return rest
	}
	return ""
}
