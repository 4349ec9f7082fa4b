// Package solver asks the language model for Go source that computes a quiz
// answer. The system prompt is chosen by executor mode so the code is
// generated against exactly the namespace the sandbox will grant it.
package solver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"quizagent/internal/llm"
	"quizagent/internal/sandbox"
)

const materializedSystem = `You are a Go data-analysis assistant.

You will be given a question, the text of a quiz page, and a description of
already-downloaded data.

You must output ONLY a JSON object:

{
  "explanation": "short natural language explanation of what you will do",
  "code": "func Solve(data map[string]interface{}) (interface{}, error) {\n    ...\n}"
}

Rules for the code:
- Solve receives a map keyed by resource URL plus the reserved keys "email",
  "secret" and "current_url" (all strings).
- Tabular entries are map[string]interface{} with "columns" ([]interface{} of
  string) and "rows" ([]map[string]interface{} keyed by column name, cell
  values are strings).
- Document entries are map[string]interface{} with "texts" ([]interface{} of
  per-page string) and "tables".
- All data is already downloaded. You may import ONLY these packages:
  strings, strconv, fmt, math, regexp, sort, bytes, errors, time, unicode,
  unicode/utf8, encoding/json, encoding/csv, encoding/base64.
  Network and filesystem packages are not available.
- Do not print anything; return the answer value.
- Return the answer in a type consistent with the question
  (number/string/boolean/json-serializable).
- The code MUST be valid Go.`

const selfFetchSystem = `You are a Go data-analysis assistant.

You will be given a question, the text of a quiz page, and a description of
the resources it references.

You must output ONLY a JSON object:

{
  "explanation": "short natural language explanation of what you will do",
  "code": "func Solve(data map[string]interface{}) (interface{}, error) {\n    ...\n}"
}

Rules for the code:
- Solve receives a map with the reserved keys "email", "secret" and
  "current_url" (all strings); data files are NOT pre-downloaded.
- Download what you need yourself. You may import the computation packages
  (strings, strconv, fmt, math, regexp, sort, bytes, errors, time, unicode,
  unicode/utf8, encoding/json, encoding/csv, encoding/base64) plus
  net/http, net/url, io, bufio and compress/gzip.
- Resolve relative links against current_url.
- Do not print anything; return the answer value.
- Return the answer in a type consistent with the question.
- The code MUST be valid Go.`

// Synthesizer generates solver code.
type Synthesizer struct {
	client llm.Client
	logger *zap.Logger
}

// NewSynthesizer creates a code synthesizer.
func NewSynthesizer(client llm.Client, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{client: client, logger: logger}
}

type codeResponse struct {
	Explanation string `json:"explanation"`
	Code        string `json:"code"`
}

// Synthesize returns Go source defining Solve. The data description, not the
// data itself, goes into the prompt; bundles can be large and the model only
// needs shapes.
func (s *Synthesizer) Synthesize(ctx context.Context, mode sandbox.Mode, question, pageText, dataDescr string) (string, error) {
	system := materializedSystem
	if mode == sandbox.ModeSelfFetch {
		system = selfFetchSystem
	}

	userPrompt := fmt.Sprintf(
		"Question summary:\n%s\n\nQuiz page text:\n%s\n\nData description:\n%s\n\n"+
			"Produce JSON with 'explanation' and 'code' fields as specified. Only return valid JSON.",
		question, pageText, dataDescr)

	raw, err := s.client.CompleteWithSystem(ctx, system, userPrompt)
	if err != nil {
		return "", fmt.Errorf("code synthesis call: %w", err)
	}

	var resp codeResponse
	if err := llm.DecodeJSONObject(raw, &resp); err != nil {
		return "", fmt.Errorf("parse synthesized code: %w", err)
	}
	if resp.Code == "" {
		return "", fmt.Errorf("model output has no code field")
	}

	s.logger.Info("solver code synthesized",
		zap.String("mode", string(mode)),
		zap.String("explanation", truncate(resp.Explanation, 120)),
		zap.Int("code_bytes", len(resp.Code)))

	return resp.Code, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
