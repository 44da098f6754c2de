// Package classify decides whether an upstream failure is a rate limit, an
// exhausted daily quota, or something else, and extracts retry hints.
package classify

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
)

// Kind is the verdict category.
type Kind int

const (
	KindOther Kind = iota
	KindRateLimit
	// KindQuota means the daily quota is exhausted.
	KindQuota
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindQuota:
		return "quota"
	default:
		return "other"
	}
}

// Verdict is the outcome of classifying one failure. RetryAfter is nil when
// the upstream gave no usable hint.
type Verdict struct {
	Kind       Kind
	RetryAfter *int
}

// Limited reports whether the verdict should trip the cooldown.
func (v Verdict) Limited() bool { return v.Kind == KindRateLimit || v.Kind == KindQuota }

// RetryAfterOr returns the hint or def.
func (v Verdict) RetryAfterOr(def int) int {
	if v.RetryAfter == nil {
		return def
	}
	return *v.RetryAfter
}

// Classifier maps an upstream error to a Verdict.
type Classifier interface {
	Classify(err error) Verdict
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(err error) Verdict

func (f ClassifierFunc) Classify(err error) Verdict { return f(err) }

// Loose is the default classifier. It matches substrings of the error
// message, so any message mentioning "rate" counts as a rate limit.
var Loose Classifier = ClassifierFunc(classifyLoose)

func classifyLoose(err error) Verdict {
	if !IsQuotaOrRateLimit(err) {
		return Verdict{Kind: KindOther}
	}
	v := Verdict{Kind: KindRateLimit}
	if secs, ok := ExtractRetryAfterSeconds(err); ok {
		v.RetryAfter = &secs
	}
	if IsDailyQuota(err) {
		v.Kind = KindQuota
	}
	return v
}

// IsQuotaOrRateLimit is true for HTTP 429 or a message containing "429",
// "quota" or "rate" (case-insensitive).
func IsQuotaOrRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var sc providers.StatusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() == 429 {
		return true
	}
	msg := message(err)
	lower := strings.ToLower(msg)
	return strings.Contains(msg, "429") || strings.Contains(lower, "quota") || strings.Contains(lower, "rate")
}

// IsDailyQuota is true when a QuotaFailure detail lists a violation whose
// quotaId contains "perday" (case-insensitive).
func IsDailyQuota(err error) bool {
	d := findDetail(err, providers.TypeQuotaFailure)
	if d == nil {
		return false
	}
	violations, ok := d["violations"].([]any)
	if !ok {
		return false
	}
	for _, v := range violations {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := m["quotaId"].(string); ok && strings.Contains(strings.ToLower(id), "perday") {
			return true
		}
	}
	return false
}

var retryDelayRe = regexp.MustCompile(`^(\d+)s$`)

// ExtractRetryAfterSeconds reads a RetryInfo detail whose retryDelay is whole
// seconds ("30s"). Fractional or other forms yield ok=false.
func ExtractRetryAfterSeconds(err error) (int, bool) {
	d := findDetail(err, providers.TypeRetryInfo)
	if d == nil {
		return 0, false
	}
	delay, ok := d["retryDelay"].(string)
	if !ok {
		return 0, false
	}
	m := retryDelayRe.FindStringSubmatch(delay)
	if m == nil {
		return 0, false
	}
	n, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0, false
	}
	return n, true
}

// message prefers the upstream message over the wrapped error string.
func message(err error) string {
	if pe, ok := providers.AsError(err); ok {
		return pe.Message
	}
	return err.Error()
}

func findDetail(err error, typeURL string) map[string]any {
	pe, ok := providers.AsError(err)
	if !ok {
		return nil
	}
	for _, d := range pe.Details {
		if d != nil && d["@type"] == typeURL {
			return d
		}
	}
	return nil
}
