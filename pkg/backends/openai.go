package backends

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"InferenceGovernor/pkg/dispatch"
)

const defaultOpenAITimeout = 120 * time.Second

// OpenAI streams chat completions from an OpenAI-compatible server such as
// vLLM or llama.cpp. TTFT is measured at the first content delta and each
// delta counts as one unit unless the server reports usage.
type OpenAI struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
}

// NewOpenAI creates a client for baseURL (e.g. http://localhost:8000/v1).
func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration) *OpenAI {
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	if model == "" {
		model = "default"
	}
	return &OpenAI{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(baseURL, "/") + "/chat/completions",
		apiKey:   apiKey,
		model:    model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Execute(ctx context.Context, work dispatch.Work) (dispatch.Outcome, error) {
	body, err := json.Marshal(chatRequest{
		Model:       o.model,
		Messages:    []chatMessage{{Role: "user", Content: work.Prompt}},
		MaxTokens:   work.MaxTokens,
		Temperature: work.Temperature,
		Stream:      true,
	})
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return dispatch.Outcome{}, fmt.Errorf("API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var (
		ttft     time.Duration
		chunks   int
		reported int
		text     strings.Builder
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return dispatch.Outcome{}, fmt.Errorf("malformed stream chunk: %w", err)
		}
		if chunk.Usage != nil && chunk.Usage.CompletionTokens > 0 {
			reported = chunk.Usage.CompletionTokens
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if chunks == 0 {
				ttft = time.Since(start)
			}
			chunks++
			text.WriteString(choice.Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return dispatch.Outcome{}, fmt.Errorf("stream read failed: %w", err)
	}

	units := chunks
	if reported > 0 {
		units = reported
	}
	return dispatch.Outcome{
		TTFT:  ttft,
		Total: time.Since(start),
		Units: units,
		Text:  text.String(),
	}, nil
}
