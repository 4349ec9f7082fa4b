package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CleanResponse strips the decorations models wrap around JSON output:
// markdown code fences and token-framing prefixes like "<s> [OUT] ... [/OUT]".
func CleanResponse(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "<s>") {
		if _, after, ok := strings.Cut(s, "[OUT]"); ok {
			s = after
		}
		if before, _, ok := strings.Cut(s, "[/OUT]"); ok {
			s = before
		}
		return strings.TrimSpace(s)
	}

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// Language tag on the fence line, e.g. ```json
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			first := strings.TrimSpace(s[:idx])
			if first == "json" || first == "go" || first == "" {
				s = s[idx+1:]
			}
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}

	return s
}

// ExtractJSONObject locates the outermost JSON object in model output, which
// may be surrounded by prose despite strict-JSON instructions.
func ExtractJSONObject(raw string) (string, error) {
	s := CleanResponse(raw)

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object found in model output")
	}
	return s[start : end+1], nil
}

// DecodeJSONObject extracts and unmarshals the JSON object in model output.
// Numbers are kept as json.Number so integral answers survive round-tripping.
func DecodeJSONObject(raw string, v interface{}) error {
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode model JSON: %w", err)
	}
	return nil
}
