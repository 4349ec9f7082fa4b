package solver

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quizagent/internal/sandbox"
)

type scriptedClient struct {
	response string
	system   string
	user     string
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *scriptedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.system = systemPrompt
	c.user = userPrompt
	return c.response, nil
}

func TestSynthesizeReturnsCode(t *testing.T) {
	client := &scriptedClient{response: `{
		"explanation": "average the value column",
		"code": "func Solve(data map[string]interface{}) (interface{}, error) { return 30, nil }"
	}`}

	s := NewSynthesizer(client, zap.NewNop())
	code, err := s.Synthesize(context.Background(), sandbox.ModeMaterialized,
		"average of values", "page text", "url: Table shape=(5, 2)")
	require.NoError(t, err)
	assert.Contains(t, code, "func Solve")

	// The prompt carries the shape description, not raw data.
	assert.Contains(t, client.user, "Table shape=(5, 2)")
	assert.Contains(t, client.system, "Network and filesystem packages are not available")
}

func TestSynthesizeSelfFetchPromptMatchesNamespace(t *testing.T) {
	client := &scriptedClient{response: `{"explanation": "x", "code": "func Solve(data map[string]interface{}) (interface{}, error) { return nil, nil }"}`}

	s := NewSynthesizer(client, zap.NewNop())
	_, err := s.Synthesize(context.Background(), sandbox.ModeSelfFetch, "q", "p", "d")
	require.NoError(t, err)
	assert.Contains(t, client.system, "net/http")
	assert.False(t, strings.Contains(client.system, "not available"))
}

func TestSynthesizeMissingCodeField(t *testing.T) {
	client := &scriptedClient{response: `{"explanation": "I cannot solve this"}`}

	s := NewSynthesizer(client, zap.NewNop())
	_, err := s.Synthesize(context.Background(), sandbox.ModeMaterialized, "q", "p", "d")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no code field")
}

func TestSynthesizeMalformedOutput(t *testing.T) {
	client := &scriptedClient{response: "here's some code: func Solve() {}"}

	s := NewSynthesizer(client, zap.NewNop())
	_, err := s.Synthesize(context.Background(), sandbox.ModeMaterialized, "q", "p", "d")
	require.Error(t, err)
}

func TestSynthesizeFencedJSON(t *testing.T) {
	client := &scriptedClient{response: "```json\n{\"explanation\": \"e\", \"code\": \"func Solve(data map[string]interface{}) (interface{}, error) { return 1, nil }\"}\n```"}

	s := NewSynthesizer(client, zap.NewNop())
	code, err := s.Synthesize(context.Background(), sandbox.ModeMaterialized, "q", "p", "d")
	require.NoError(t, err)
	assert.Contains(t, code, "return 1, nil")
}
