// Package docext adapts the external document-extraction HTTP service to the
// ports.DocumentExtractor contract. The service decodes raw document bytes
// and returns per-page text and rendered page images; byte-level decoding is
// entirely its concern.
package docext

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/grogi/agent-server/internal/ports"
)

// Config holds extractor configuration.
type Config struct {
	Endpoint string
	MaxPages int
	Timeout  time.Duration
}

// Client calls the extraction service.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a client. MaxPages bounds how many pages the service is asked
// to process per document.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("docext: endpoint is required")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

type extractRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64 raw bytes
	MaxPages int    `json:"max_pages"`
}

type extractResponse struct {
	Pages []struct {
		Text  string `json:"text"`
		Image string `json:"image,omitempty"` // data URL of the rendered page
	} `json:"pages"`
	ImageOnly bool   `json:"image_only"`
	Error     string `json:"error,omitempty"`
}

// Extract implements ports.DocumentExtractor. An image-only document is a
// successful result with ImageOnly set; a transport or service error is a
// returned error.
func (c *Client) Extract(ctx context.Context, filename string, raw []byte) (*ports.Extraction, error) {
	payload, err := json.Marshal(extractRequest{
		Filename: filename,
		Content:  base64.StdEncoding.EncodeToString(raw),
		MaxPages: c.cfg.MaxPages,
	})
	if err != nil {
		return nil, fmt.Errorf("docext: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("docext: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docext: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("docext: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp)))
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("docext: failed to decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("docext: extraction failed: %s", out.Error)
	}

	ex := &ports.Extraction{ImageOnly: out.ImageOnly}
	for _, p := range out.Pages {
		ex.PageTexts = append(ex.PageTexts, p.Text)
		if p.Image != "" {
			ex.PageImages = append(ex.PageImages, p.Image)
		}
	}
	return ex, nil
}
