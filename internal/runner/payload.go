package runner

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// MergePayload overlays the four fixed submission fields on the plan's
// template. Template entries are defaults; email, secret, url and answer
// always win regardless of what the template carried for them.
func MergePayload(template map[string]interface{}, email, secret, pageURL string, answer interface{}) map[string]interface{} {
	payload := make(map[string]interface{}, len(template)+4)
	for k, v := range template {
		payload[k] = v
	}
	payload["email"] = email
	payload["secret"] = secret
	payload["url"] = pageURL
	payload["answer"] = answer
	return payload
}

// coerceNumber converts an answer to float64 when the plan expects a number.
// Coercion failure is non-fatal; the raw value is kept and the grader judges
// it as-is.
func coerceNumber(v interface{}) interface{} {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
		return v
	default:
		return v
	}
}

// submitMarkers identify URLs that already point at a submission endpoint.
var submitMarkers = []string{"/submit", "/api/"}

// SubmitOverrides maps a host substring to the fallback submission path used
// when a planned submit URL points back at a quiz page. A lookup table rather
// than inline conditionals, so known-host patches extend without touching
// control flow.
type SubmitOverrides map[string]string

// Correct returns the submission URL to use. An empty candidate falls back
// to the page URL before correction is considered.
func (o SubmitOverrides) Correct(candidate, pageURL string) string {
	if candidate == "" {
		candidate = pageURL
	}
	for _, marker := range submitMarkers {
		if strings.Contains(candidate, marker) {
			return candidate
		}
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return candidate
	}
	for hostPattern, fallbackPath := range o {
		if strings.Contains(u.Host, hostPattern) {
			u.Path = fallbackPath
			u.RawQuery = ""
			u.Fragment = ""
			return u.String()
		}
	}
	return candidate
}
