package stage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grogi/agent-server/internal/ports"
	"github.com/grogi/agent-server/internal/prompts"
	"github.com/grogi/agent-server/internal/score"
	"github.com/grogi/agent-server/internal/session"
)

// fakeGenerator scripts model responses per call.
type fakeGenerator struct {
	mu          sync.Mutex
	respond     func(system string, user ports.Message) (string, error)
	chunks      []string
	calls       []string
	lastHistory []ports.Message
}

func (f *fakeGenerator) Generate(ctx context.Context, system string, history []ports.Message, user ports.Message) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, system)
	f.lastHistory = history
	f.mu.Unlock()
	if f.respond == nil {
		return "", nil
	}
	return f.respond(system, user)
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, system string, history []ports.Message, user ports.Message, fn func(chunk string) error) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, system)
	f.lastHistory = history
	chunks := f.chunks
	f.mu.Unlock()
	var full string
	for _, c := range chunks {
		if err := fn(c); err != nil {
			return full, err
		}
		full += c
	}
	if len(chunks) > 0 {
		return full, nil
	}
	if f.respond == nil {
		return "", nil
	}
	return f.respond(system, user)
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSearcher struct {
	search func(query, region string) (string, error)
}

func (f *fakeSearcher) Search(ctx context.Context, query, region string) (string, error) {
	return f.search(query, region)
}

type fakeExtractor struct {
	extract func(filename string, raw []byte) (ports.Extraction, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, filename string, raw []byte) (ports.Extraction, error) {
	return f.extract(filename, raw)
}

func newTestStages(t *testing.T, gen *fakeGenerator, searcher ports.WebSearcher, extractor ports.DocumentExtractor) (*Stages, *session.Store) {
	t.Helper()
	pack, err := prompts.Load()
	if err != nil {
		t.Fatalf("prompts.Load: %v", err)
	}
	sessions := session.NewStore(10*time.Minute, time.Hour)
	return New(Config{
		Generator: gen,
		Searcher:  searcher,
		Extractor: extractor,
		Sessions:  sessions,
		Pack:      pack,
		Scorer:    score.NewCalculator(gen, pack.FallbackSummary),
	}), sessions
}
