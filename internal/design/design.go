// Package design holds the request and response shapes of the design
// generator and the parser that turns upstream text into a Concept.
package design

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SourceFallback marks a payload produced without the upstream model.
const SourceFallback = "fallback"

// Upstream error codes reported in Meta. The names predate multi-provider
// support and are kept for client compatibility.
const (
	ErrorCodeRateLimited = "GEMINI_RATE_LIMITED"
	ErrorCodeUpstream    = "GEMINI_ERROR"
)

// Request is the body of POST /api/generate-design.
type Request struct {
	Prompt string `json:"prompt,omitempty"`
	Image  string `json:"image,omitempty"`
}

// ChatTurn is one prior message in a chat conversation. Role "ai" marks the
// assistant side; anything else is the user.
type ChatTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string     `json:"message"`
	History []ChatTurn `json:"history,omitempty"`
}

// Concept is a structured interior-design proposal. Fields the model adds
// beyond the known ones are kept in Extra and written back out unchanged.
type Concept struct {
	Concept      string   `json:"concept" yaml:"concept"`
	ColorPalette []string `json:"colorPalette" yaml:"colorPalette"`
	Furniture    []string `json:"furniture" yaml:"furniture"`
	Lighting     string   `json:"lighting" yaml:"lighting"`
	Layout       string   `json:"layout" yaml:"layout"`
	Decor        string   `json:"decor" yaml:"decor"`
	Image        string   `json:"image" yaml:"image"`
	Note         string   `json:"note,omitempty" yaml:"-"`

	Extra map[string]json.RawMessage `json:"-" yaml:"-"`
}

// Clone returns a deep copy.
func (c Concept) Clone() Concept {
	c.ColorPalette = append([]string(nil), c.ColorPalette...)
	c.Furniture = append([]string(nil), c.Furniture...)
	if c.Extra != nil {
		extra := make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			extra[k] = append(json.RawMessage(nil), v...)
		}
		c.Extra = extra
	}
	return c
}

var conceptKeys = map[string]bool{
	"concept": true, "colorPalette": true, "furniture": true, "lighting": true,
	"layout": true, "decor": true, "image": true, "note": true,
}

func (c Concept) MarshalJSON() ([]byte, error) {
	type plain Concept
	b, err := json.Marshal(plain(c))
	if err != nil || len(c.Extra) == 0 {
		return b, err
	}
	extra := make(map[string]json.RawMessage, len(c.Extra))
	for k, v := range c.Extra {
		if !conceptKeys[k] {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return b, nil
	}
	eb, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("design: encode extra fields: %w", err)
	}
	out := make([]byte, 0, len(b)+len(eb))
	out = append(out, b[:len(b)-1]...)
	out = append(out, ',')
	return append(out, eb[1:]...), nil
}

// UnmarshalJSON accepts any JSON object. Known fields are decoded leniently:
// a scalar where text is expected keeps its JSON text, and a string where a
// list is expected is split on commas.
func (c *Concept) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("design: decode concept: %w", err)
	}
	if fields == nil {
		return errors.New("design: decode concept: not an object")
	}

	*c = Concept{}
	for k, raw := range fields {
		switch k {
		case "concept":
			c.Concept = looseString(raw)
		case "colorPalette":
			c.ColorPalette = looseList(raw)
		case "furniture":
			c.Furniture = looseList(raw)
		case "lighting":
			c.Lighting = looseString(raw)
		case "layout":
			c.Layout = looseString(raw)
		case "decor":
			c.Decor = looseString(raw)
		case "image":
			c.Image = looseString(raw)
		case "note":
			c.Note = looseString(raw)
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]json.RawMessage)
			}
			c.Extra[k] = raw
		}
	}
	return nil
}

func looseString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var buf bytes.Buffer
	if json.Compact(&buf, raw) != nil {
		return string(raw)
	}
	return buf.String()
}

func looseList(raw json.RawMessage) []string {
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) == nil {
		if items == nil {
			return nil
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, looseString(it))
		}
		return out
	}
	var out []string
	for _, part := range strings.Split(looseString(raw), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Kind tags which variant a Data value holds.
type Kind int

const (
	KindConcept Kind = iota + 1
	KindRawText
)

func (k Kind) String() string {
	switch k {
	case KindConcept:
		return "concept"
	case KindRawText:
		return "raw_text"
	default:
		return "unknown"
	}
}

// Data is either a parsed Concept or the unparsed model text. Use Kind to
// pick the variant; the zero value is invalid.
type Data struct {
	kind    Kind
	concept Concept
	raw     string
}

// ConceptData wraps a Concept.
func ConceptData(c Concept) Data { return Data{kind: KindConcept, concept: c} }

// RawTextData wraps text the model returned that was not a Concept.
func RawTextData(text string) Data { return Data{kind: KindRawText, raw: text} }

func (d Data) Kind() Kind { return d.kind }

// Concept returns the concept and true when d holds one.
func (d Data) Concept() (Concept, bool) { return d.concept, d.kind == KindConcept }

// RawText returns the raw text and true when d holds it.
func (d Data) RawText() (string, bool) { return d.raw, d.kind == KindRawText }

type rawTextJSON struct {
	RawText string `json:"rawText"`
}

func (d Data) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case KindConcept:
		return json.Marshal(d.concept)
	case KindRawText:
		return json.Marshal(rawTextJSON{RawText: d.raw})
	default:
		return nil, errors.New("design: marshal empty data")
	}
}

func (d *Data) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("design: decode data: %w", err)
	}
	if raw, ok := fields["rawText"]; ok && len(fields) == 1 {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return fmt.Errorf("design: decode rawText: %w", err)
		}
		*d = RawTextData(text)
		return nil
	}
	var c Concept
	if err := json.Unmarshal(b, &c); err != nil {
		return fmt.Errorf("design: decode concept: %w", err)
	}
	*d = ConceptData(c)
	return nil
}

// UpstreamMeta explains how the upstream model was (or was not) used.
// Cooldown and RetryAfterSeconds are pointers so that "false" and null are
// encoded when set, and the fields vanish when not applicable.
type UpstreamMeta struct {
	Enabled           bool   `json:"enabled"`
	Model             string `json:"model"`
	Cooldown          *bool  `json:"cooldown,omitempty"`
	RetryAfterSeconds *int   `json:"retryAfterSeconds"`
	ErrorCode         string `json:"errorCode,omitempty"`

	// omitRetry drops retryAfterSeconds entirely (generic error path).
	omitRetry bool
}

func (m UpstreamMeta) MarshalJSON() ([]byte, error) {
	type plain UpstreamMeta
	if m.omitRetry {
		return json.Marshal(struct {
			Enabled   bool   `json:"enabled"`
			Model     string `json:"model"`
			Cooldown  *bool  `json:"cooldown,omitempty"`
			ErrorCode string `json:"errorCode,omitempty"`
		}{m.Enabled, m.Model, m.Cooldown, m.ErrorCode})
	}
	return json.Marshal(plain(m))
}

func (m *UpstreamMeta) UnmarshalJSON(b []byte) error {
	type plain UpstreamMeta
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(b, &keys); err != nil {
		return err
	}
	*m = UpstreamMeta(p)
	_, hasRetry := keys["retryAfterSeconds"]
	m.omitRetry = !hasRetry
	return nil
}

// SkippedMeta describes a request that never reached upstream.
func SkippedMeta(enabled bool, model string, cooling bool, retryAfter *int) *Meta {
	return &Meta{Gemini: &UpstreamMeta{
		Enabled:           enabled,
		Model:             model,
		Cooldown:          &cooling,
		RetryAfterSeconds: retryAfter,
	}}
}

// RateLimitedMeta describes a quota or rate-limit failure.
func RateLimitedMeta(model string, retryAfter int) *Meta {
	return &Meta{Gemini: &UpstreamMeta{
		Enabled:           true,
		Model:             model,
		RetryAfterSeconds: &retryAfter,
		ErrorCode:         ErrorCodeRateLimited,
	}}
}

// ErrorMeta describes any other upstream failure.
func ErrorMeta(model string) *Meta {
	return &Meta{Gemini: &UpstreamMeta{
		Enabled:   true,
		Model:     model,
		ErrorCode: ErrorCodeUpstream,
		omitRetry: true,
	}}
}

// Meta is the diagnostic block attached to fallback payloads.
type Meta struct {
	Gemini *UpstreamMeta `json:"gemini,omitempty"`
}

// Payload is a resolved design result. It is what the cache stores.
type Payload struct {
	Source string `json:"source"`
	Data   Data   `json:"data"`
	Meta   *Meta  `json:"meta,omitempty"`
}

// Encode serializes the payload for a cache backend.
func (p *Payload) Encode() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("design: encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload is the inverse of Encode.
func DecodePayload(b []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("design: decode payload: %w", err)
	}
	if p.Data.Kind() == 0 {
		return nil, errors.New("design: decode payload: missing data")
	}
	return &p, nil
}

// Parse turns model output into Data. Markdown fences are removed and the
// remainder must be a single valid JSON object to become a Concept; invalid
// JSON, null, arrays and scalars are returned as raw text.
func Parse(text string) Data {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	if !json.Valid([]byte(cleaned)) || !strings.HasPrefix(cleaned, "{") {
		return RawTextData(text)
	}
	var c Concept
	if err := json.Unmarshal([]byte(cleaned), &c); err != nil {
		return RawTextData(text)
	}
	return ConceptData(c)
}
