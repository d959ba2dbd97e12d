// Package ports defines the typed boundaries to the three external services
// the turn engine depends on: text generation, web search, and document
// extraction. The engine consumes these interfaces; adapters live in
// subpackages.
package ports

import (
	"context"
	"errors"
)

// Message is one conversational message handed to the text generator.
// Images are data URLs or HTTP URLs attached to the message content.
type Message struct {
	Role    string
	Content string
	Images  []string
}

// Roles accepted by the text generation service.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TextGenerator is the boundary to the text/vision generation service.
type TextGenerator interface {
	// Generate returns the full completion for the given system instruction,
	// prior history and current user message.
	Generate(ctx context.Context, system string, history []Message, user Message) (string, error)

	// GenerateStream streams the completion incrementally, invoking fn once
	// per content fragment in generation order, and returns the assembled
	// text. A non-nil error from fn aborts the stream.
	GenerateStream(ctx context.Context, system string, history []Message, user Message, fn func(chunk string) error) (string, error)
}

// ErrNoResults reports that a search completed but matched nothing. It is an
// expected outcome, distinct from transport failure.
var ErrNoResults = errors.New("search returned no results")

// WebSearcher is the boundary to the network search service.
type WebSearcher interface {
	// Search returns result text for query. Region selects the target
	// language/region (e.g. "kr-kr"); empty means the adapter default.
	// Returns ErrNoResults when the backend reports an empty result set.
	Search(ctx context.Context, query, region string) (string, error)
}

// Extraction is the result of document extraction.
type Extraction struct {
	PageTexts  []string
	PageImages []string
	// ImageOnly reports that the document contained no extractable text.
	// This is a successful extraction outcome, not a failure.
	ImageOnly bool
}

// DocumentExtractor is the boundary to the document extraction service.
type DocumentExtractor interface {
	Extract(ctx context.Context, filename string, raw []byte) (*Extraction, error)
}
