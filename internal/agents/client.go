package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HTTPCompletionClient is an HTTP implementation of the Completer
// interface against the completion sidecar.
type HTTPCompletionClient struct {
	url        string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewHTTPCompletionClient creates a new HTTPCompletionClient.
func NewHTTPCompletionClient(url, model string, maxTokens int) *HTTPCompletionClient {
	return &HTTPCompletionClient{
		url:        url,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: http.DefaultClient,
	}
}

// Complete sends one completion request to the sidecar.
func (c *HTTPCompletionClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/complete", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get completion: status code %d", resp.StatusCode)
	}

	var completion CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}

	return &completion, nil
}

// decodeResult parses model output into a stage result struct. Models
// occasionally wrap JSON in a markdown code fence despite instructions,
// so fences are stripped before decoding.
func decodeResult(content string, out any) error {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if err := json.Unmarshal([]byte(trimmed), out); err != nil {
		return fmt.Errorf("failed to parse stage result: %w", err)
	}
	return nil
}
