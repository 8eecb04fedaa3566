package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudsecdocs/docschat/pkg/models"
)

const anthropicVersion = "2023-06-01"

// AnthropicStreamer streams completions from the Anthropic Messages API.
type AnthropicStreamer struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
}

// NewAnthropicStreamer creates an Anthropic completion driver. An empty
// endpoint defaults to the public API.
func NewAnthropicStreamer(apiKey, model, endpoint string) *AnthropicStreamer {
	if endpoint == "" {
		endpoint = "https://api.anthropic.com/v1/messages"
	}
	return &AnthropicStreamer{
		client:   &http.Client{Timeout: 5 * time.Minute},
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
	}
}

type anthropicRequest struct {
	Model     string               `json:"model"`
	System    string               `json:"system,omitempty"`
	Messages  []models.ChatMessage `json:"messages"`
	MaxTokens int                  `json:"max_tokens"`
	Stream    bool                 `json:"stream"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream opens a streaming completion and yields parsed text deltas.
func (s *AnthropicStreamer) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     s.model,
		System:    req.SystemPrompt,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", s.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call anthropic api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("anthropic api returned %d: %s", resp.StatusCode, string(respBody))
	}

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		// Every send races ctx cancellation: an abandoned consumer must not
		// strand this goroutine (and the provider connection) on a full buffer.
		send := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				send(Chunk{Err: ctx.Err()})
				return
			default:
			}

			line := bytes.TrimSpace(scanner.Bytes())
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &event); err != nil {
				continue
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta.Text != "" {
					if !send(Chunk{Text: event.Delta.Text}) {
						return
					}
				}
			case "message_stop":
				send(Chunk{Done: true})
				return
			case "error":
				msg := "stream error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				send(Chunk{Err: fmt.Errorf("anthropic: %s", msg)})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			send(Chunk{Err: fmt.Errorf("read stream: %w", err)})
			return
		}
		// Stream ended without an explicit message_stop; treat as done.
		send(Chunk{Done: true})
	}()

	return ch, nil
}
