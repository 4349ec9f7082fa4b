// Package planner extracts a structured solving plan from a rendered quiz
// page. The language model does the reading: question extraction and
// relative-URL resolution happen in the same inference call, so the page URL
// is part of the prompt.
package planner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"quizagent/internal/llm"
)

// Answer types a plan may declare.
const (
	AnswerNumber  = "number"
	AnswerString  = "string"
	AnswerBoolean = "boolean"
	AnswerJSON    = "json"
	AnswerFile    = "file"
)

// Plan is the structured output of one plan-extraction call. It is never
// mutated after creation; the runner merges it into a submission payload.
type Plan struct {
	QuestionSummary    string                 `json:"question_summary"`
	SubmitURL          string                 `json:"submit_url"`
	AnswerType         string                 `json:"answer_type"`
	FileURLs           []string               `json:"file_urls"`
	APIURLs            []string               `json:"api_urls"`
	AnswerJSONTemplate map[string]interface{} `json:"answer_json_template"`
}

const systemPrompt = `You are a planning assistant for solving data quizzes.

You receive the full content of a quiz webpage and its URL.

Your job is to output a STRICT JSON object with these fields:

{
  "question_summary": "short description of what is being asked",
  "submit_url": "https://...",
  "answer_type": "number|string|boolean|json|file",
  "file_urls": ["https://...", "..."],
  "api_urls": ["https://...", "..."],
  "answer_json_template": {
    "email": "",
    "secret": "",
    "url": "",
    "answer": null
  }
}

Rules:
- Resolve relative URLs to absolute URLs using the page URL. A link like
  "/data/file.csv" must come back as a full https URL.
- file_urls lists CSV, Excel, PDF, JSON or other data files referenced by the page.
- api_urls lists API endpoints that require email/secret authentication.
- If the page shows a JSON payload schema, replicate it in answer_json_template,
  leaving the answer value as null.
- Do NOT include comments or extra fields.
- Output only valid JSON, no explanation text and no markdown formatting.`

// Extractor turns page content into a Plan via one LLM call.
type Extractor struct {
	client llm.Client
	logger *zap.Logger
}

// NewExtractor creates a plan extractor.
func NewExtractor(client llm.Client, logger *zap.Logger) *Extractor {
	return &Extractor{client: client, logger: logger}
}

// Extract asks the model for a plan. pageContent is the rendered HTML (links
// live in attributes the visible text drops); pageURL anchors relative URLs.
func (e *Extractor) Extract(ctx context.Context, pageContent, pageURL string) (*Plan, error) {
	userPrompt := fmt.Sprintf(
		"Quiz page URL: %s\n\nHere is the full content of the quiz page:\n\n%s\n\n"+
			"Extract the JSON plan as specified. Only return valid JSON.",
		pageURL, pageContent)

	raw, err := e.client.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("plan extraction call: %w", err)
	}
	e.logger.Debug("planner raw response", zap.Int("length", len(raw)))

	var plan Plan
	if err := llm.DecodeJSONObject(raw, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	if err := validate(&plan); err != nil {
		return nil, err
	}

	e.logger.Info("plan extracted",
		zap.String("question", truncate(plan.QuestionSummary, 80)),
		zap.String("submit_url", plan.SubmitURL),
		zap.String("answer_type", plan.AnswerType),
		zap.Int("file_urls", len(plan.FileURLs)),
		zap.Int("api_urls", len(plan.APIURLs)))

	return &plan, nil
}

func validate(p *Plan) error {
	switch p.AnswerType {
	case AnswerNumber, AnswerString, AnswerBoolean, AnswerJSON, AnswerFile:
	case "":
		p.AnswerType = AnswerString
	default:
		return fmt.Errorf("plan has unknown answer_type %q", p.AnswerType)
	}
	if p.AnswerJSONTemplate == nil {
		p.AnswerJSONTemplate = map[string]interface{}{}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
