package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPSubmitter posts answer payloads. The submission response shape is
// externally controlled, so a malformed reply is synthesized into an explicit
// incorrect verdict instead of an error; only transport failures propagate.
type HTTPSubmitter struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPSubmitter creates a submitter.
func NewHTTPSubmitter(logger *zap.Logger) *HTTPSubmitter {
	return &HTTPSubmitter{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// NewHTTPSubmitterWithClient creates a submitter with a custom HTTP client.
func NewHTTPSubmitterWithClient(client *http.Client, logger *zap.Logger) *HTTPSubmitter {
	return &HTTPSubmitter{httpClient: client, logger: logger}
}

// Submit posts the payload once. Submissions are never retried: the remote
// grader may flag a resubmission as a duplicate attempt.
func (s *HTTPSubmitter) Submit(ctx context.Context, submitURL string, payload map[string]interface{}) (*StepResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post answer: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result StepResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		s.logger.Warn("submission response is not valid JSON",
			zap.String("url", submitURL),
			zap.Int("status", resp.StatusCode),
			zap.Int("body_bytes", len(respBody)))
		return &StepResult{
			Correct: false,
			Reason:  fmt.Sprintf("submission endpoint returned HTTP %d with a non-JSON body", resp.StatusCode),
		}, nil
	}

	return &result, nil
}
