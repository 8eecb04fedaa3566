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
)

// OpenAIStreamer streams completions from an OpenAI-compatible
// chat-completions endpoint.
type OpenAIStreamer struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
}

// NewOpenAIStreamer creates an OpenAI completion driver. An empty endpoint
// defaults to the public API.
func NewOpenAIStreamer(apiKey, model, endpoint string) *OpenAIStreamer {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	return &OpenAIStreamer{
		client:   &http.Client{Timeout: 5 * time.Minute},
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
	}
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model     string              `json:"model"`
	Messages  []openAIChatMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
	Stream    bool                `json:"stream"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream opens a streaming completion and yields parsed text deltas. The
// system prompt is sent as a leading system-role message.
func (s *OpenAIStreamer) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	msgs := make([]openAIChatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openAIChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openAIChatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(openAIChatRequest{
		Model:     s.model,
		Messages:  msgs,
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
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call openai api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("openai api returned %d: %s", resp.StatusCode, string(respBody))
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
			payload := bytes.TrimPrefix(line, []byte("data: "))

			if bytes.Equal(payload, []byte("[DONE]")) {
				send(Chunk{Done: true})
				return
			}

			var frame openAIStreamResponse
			if err := json.Unmarshal(payload, &frame); err != nil {
				continue
			}
			if len(frame.Choices) == 0 {
				continue
			}
			choice := frame.Choices[0]
			if choice.Delta.Content != "" {
				if !send(Chunk{Text: choice.Delta.Content}) {
					return
				}
			}
			if choice.FinishReason != "" {
				send(Chunk{Done: true})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			send(Chunk{Err: fmt.Errorf("read stream: %w", err)})
			return
		}
		send(Chunk{Done: true})
	}()

	return ch, nil
}
