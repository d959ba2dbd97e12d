// Package openai adapts an OpenAI-compatible chat-completions API to the
// ports.TextGenerator contract, with blocking and SSE-streaming variants and
// multimodal content parts.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/grogi/agent-server/internal/ports"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config holds client configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// ConfigFromEnv builds a config from OPENAI_* environment variables.
func ConfigFromEnv() Config {
	cfg := Config{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		Model:   os.Getenv("OPENAI_MODEL"),
		Timeout: 60 * time.Second,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	return cfg
}

// Client is an OpenAI-compatible chat-completions client.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a client. The HTTP client carries no timeout of its own;
// per-call deadlines come from the caller's context so streamed generations
// are not cut off mid-answer.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	return &Client{cfg: cfg, http: &http.Client{}}, nil
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func buildMessages(system string, history []ports.Message, user ports.Message) []wireMessage {
	msgs := make([]wireMessage, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, wireMessage{Role: "system", Content: system})
	}
	for _, m := range history {
		msgs = append(msgs, wireMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, wireMessage{Role: user.Role, Content: userContent(user)})
	return msgs
}

// userContent renders the current message: a bare string when text-only, or
// typed content parts when images are attached.
func userContent(m ports.Message) any {
	if len(m.Images) == 0 {
		return m.Content
	}
	parts := []contentPart{{Type: "text", Text: m.Content}}
	for _, img := range m.Images {
		url := img
		if !strings.HasPrefix(img, "http") && !strings.HasPrefix(img, "data:") {
			url = "data:image/jpeg;base64," + img
		}
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageRef{URL: url}})
	}
	return parts
}

// Generate implements ports.TextGenerator.
func (c *Client) Generate(ctx context.Context, system string, history []ports.Message, user ports.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.post(ctx, chatRequest{Model: c.cfg.Model, Messages: buildMessages(system, history, user)})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openai: failed to decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("openai: API error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: response contained no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// GenerateStream implements ports.TextGenerator. Chunks are delivered in
// generation order; fn returning an error aborts the stream.
func (c *Client) GenerateStream(ctx context.Context, system string, history []ports.Message, user ports.Message, fn func(chunk string) error) (string, error) {
	resp, err := c.post(ctx, chatRequest{Model: c.cfg.Model, Messages: buildMessages(system, history, user), Stream: true})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var full strings.Builder
	if err := parseSSE(resp.Body, func(data string) error {
		if data == "[DONE]" {
			return nil
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Ignore unparseable keepalive/comment payloads.
			return nil
		}
		for _, ch := range chunk.Choices {
			if ch.Delta.Content == "" {
				continue
			}
			full.WriteString(ch.Delta.Content)
			if fn != nil {
				if err := fn(ch.Delta.Content); err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		return full.String(), err
	}
	return full.String(), nil
}

func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp)))
	}
	return resp, nil
}

// parseSSE reads server-sent events from r and invokes fn with each data
// payload. Multi-line data fields are joined with newlines per the SSE spec.
func parseSSE(r io.Reader, fn func(data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 512*1024)

	var dataLines []string
	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		data := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		return fn(data)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}
