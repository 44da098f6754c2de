// Package fallback selects a canned design for a prompt when the upstream
// model cannot be used.
package fallback

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/design"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Reason says why the fallback was served. It selects the note attached to
// the returned Concept.
type Reason int

const (
	// ReasonUnavailable covers a disabled upstream, a missing credential and
	// an active cooldown.
	ReasonUnavailable Reason = iota
	ReasonRateLimited
	ReasonUpstreamError
)

// Note returns the client-facing explanation for r.
func (r Reason) Note() string {
	switch r {
	case ReasonRateLimited:
		return "Fallback used due to Gemini rate/quota limit"
	case ReasonUpstreamError:
		return "Fallback used due to Gemini error (Smart Demo Mode)"
	default:
		return "Fallback used (Gemini disabled/unavailable)"
	}
}

func (r Reason) String() string {
	switch r {
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonUpstreamError:
		return "upstream_error"
	default:
		return "unavailable"
	}
}

// Rule maps keywords to a template name.
type Rule struct {
	Template string   `yaml:"template"`
	Keywords []string `yaml:"keywords"`
}

type catalogFile struct {
	Rules     []Rule                    `yaml:"rules"`
	Default   string                    `yaml:"default"`
	Templates map[string]design.Concept `yaml:"templates"`
}

// Catalog is an immutable, ordered rule table. Safe for concurrent use.
type Catalog struct {
	rules     []Rule
	def       string
	templates map[string]design.Concept
}

// Default parses the embedded catalog. It panics if the embedded file is
// invalid, which only a broken build can cause.
func Default() *Catalog {
	c, err := Parse(embeddedCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalog override from path. An empty path yields Default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fallback: read catalog: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a YAML catalog.
func Parse(b []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("fallback: decode catalog: %w", err)
	}
	if f.Default == "" {
		return nil, errors.New("fallback: catalog has no default template")
	}
	if _, ok := f.Templates[f.Default]; !ok {
		return nil, fmt.Errorf("fallback: default template %q not defined", f.Default)
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, r := range f.Rules {
		if _, ok := f.Templates[r.Template]; !ok {
			return nil, fmt.Errorf("fallback: rule %d references unknown template %q", i, r.Template)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("fallback: rule %d (%s) has no keywords", i, r.Template)
		}
		kw := make([]string, len(r.Keywords))
		for j, k := range r.Keywords {
			kw[j] = strings.ToLower(k)
		}
		rules = append(rules, Rule{Template: r.Template, Keywords: kw})
	}

	return &Catalog{rules: rules, def: f.Default, templates: f.Templates}, nil
}

// Match returns the template name for prompt. First matching rule wins.
func (c *Catalog) Match(prompt string) string {
	p := strings.ToLower(prompt)
	for _, r := range c.rules {
		for _, k := range r.Keywords {
			if strings.Contains(p, k) {
				return r.Template
			}
		}
	}
	return c.def
}

// Select returns a copy of the matching template annotated with the note
// for reason.
func (c *Catalog) Select(prompt string, reason Reason) design.Concept {
	out := c.templates[c.Match(prompt)].Clone()
	out.Note = reason.Note()
	return out
}

// Rules returns a copy of the ordered rule list.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}
