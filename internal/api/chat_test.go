package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grogi/agent-server/internal/config"
	"github.com/grogi/agent-server/internal/graph"
	"github.com/grogi/agent-server/internal/identity"
	"github.com/grogi/agent-server/internal/ports"
	"github.com/grogi/agent-server/internal/prompts"
	"github.com/grogi/agent-server/internal/score"
	"github.com/grogi/agent-server/internal/session"
	"github.com/grogi/agent-server/internal/stage"
	"github.com/grogi/agent-server/internal/store"
)

const scoreJSON = `{"goal_realism":15,"effort_specificity":8,"external_blame":12,"info_seeking":5,"time_urgency":18,"summary":"요약"}`

// scriptedGenerator routes responses by which prompt is being asked.
type scriptedGenerator struct {
	pack        *prompts.Pack
	titleErr    error
	titleSystem string
}

func (g *scriptedGenerator) Generate(ctx context.Context, system string, history []ports.Message, user ports.Message) (string, error) {
	switch {
	case system == g.pack.CrisisClassifier:
		return "safe", nil
	case system == g.pack.QueryPlanner:
		return "NONE", nil
	case system == g.pack.CritiqueRubric:
		return "PASS", nil
	case system == g.pack.LanguageDetector:
		return "Korean", nil
	case strings.HasPrefix(system, strings.TrimRight(g.pack.TitleMaker, "\n")):
		g.titleSystem = system
		if g.titleErr != nil {
			return "", g.titleErr
		}
		return "멋진 제목", nil
	case strings.HasPrefix(user.Content, "사용자 입력:"):
		return scoreJSON, nil
	default:
		return "etc", nil
	}
}

func (g *scriptedGenerator) GenerateStream(ctx context.Context, system string, history []ports.Message, user ports.Message, fn func(chunk string) error) (string, error) {
	for _, c := range []string{"현실 ", "체크 들어간다"} {
		if err := fn(c); err != nil {
			return "", err
		}
	}
	return "현실 체크 들어간다", nil
}

type stubSearcher struct{}

func (stubSearcher) Search(context.Context, string, string) (string, error) {
	return "", ports.ErrNoResults
}

func newTestServer(t *testing.T, gen *scriptedGenerator, cfg *config.Config) (*httptest.Server, store.Repository) {
	t.Helper()

	pack, err := prompts.Load()
	if err != nil {
		t.Fatalf("prompts.Load: %v", err)
	}
	gen.pack = pack

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	stages := stage.New(stage.Config{
		Generator: gen,
		Searcher:  stubSearcher{},
		Sessions:  session.NewStore(10*time.Minute, time.Hour),
		Pack:      pack,
		Scorer:    score.NewCalculator(gen, pack.FallbackSummary),
	})
	g, err := stage.BuildTurnGraph(stages)
	if err != nil {
		t.Fatalf("BuildTurnGraph: %v", err)
	}
	exec, err := graph.NewExecutor(g)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	h := New(repo, exec, gen, pack, cfg, "test-model")
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func testConfig() *config.Config {
	return &config.Config{
		Port:          "0",
		DBPath:        "unused",
		TurnTimeout:   10 * time.Second,
		SearchRegion:  "kr-kr",
		PendingTTL:    10 * time.Minute,
		DocumentTTL:   time.Hour,
		MaxBodyBytes:  1 << 20,
		RatePerMinute: 100,
		SSEKeepalive:  time.Minute,
	}
}

func clientWithJar(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 30 * time.Second}
}

func postChat(t *testing.T, client *http.Client, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Post(url+"/agent/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /agent/chat: %v", err)
	}
	defer resp.Body.Close()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return resp, sb.String()
}

func jsonDecode(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func TestChatSSEEndToEnd(t *testing.T) {
	t.Parallel()

	srv, repo := newTestServer(t, &scriptedGenerator{}, testConfig())
	client := clientWithJar(t)

	resp, body := postChat(t, client, srv.URL,
		`{"session_id":"sess-1","user_message":"퇴사하고 유튜브나 할까"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	for _, want := range []string{
		"event: status", "event: analysis_preview", "event: section",
		"event: token", "event: score", "event: share_card",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q:\n%s", want, body)
		}
	}
	if got := strings.Count(body, "event: done"); got != 1 {
		t.Errorf("done events = %d, want exactly 1", got)
	}
	if !strings.Contains(body, "현실 ") {
		t.Errorf("streamed tokens missing from body:\n%s", body)
	}

	// The exchange persisted.
	msgs, err := repo.History(context.Background(), "sess-1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("persisted %d messages (%+v), want user+assistant", len(msgs), msgs)
	}
	if msgs[1].RealityScore == nil || *msgs[1].RealityScore != 58 {
		t.Errorf("assistant RealityScore = %v, want 58", msgs[1].RealityScore)
	}
}

func TestChatSessionIDFromHeader(t *testing.T) {
	t.Parallel()

	srv, repo := newTestServer(t, &scriptedGenerator{}, testConfig())
	client := clientWithJar(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/agent/chat",
		strings.NewReader(`{"user_message":"세션 없이 보낸 요청"}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identity.SessionHeaderName, "header-sess")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST /agent/chat: %v", err)
	}
	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Fatalf("drain body: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	msgs, err := repo.History(context.Background(), "header-sess", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages under header session, want 2", len(msgs))
	}
}

func TestChatCrisisEarlyExit(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &scriptedGenerator{}, testConfig())
	client := clientWithJar(t)

	resp, body := postChat(t, client, srv.URL,
		`{"session_id":"sess-1","user_message":"요즘 자살 생각이 자꾸 들어"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if !strings.Contains(body, "event: crisis") {
		t.Errorf("stream missing crisis event:\n%s", body)
	}
	for _, banned := range []string{"event: score", "event: share_card", "event: section"} {
		if strings.Contains(body, banned) {
			t.Errorf("early-exit stream leaked %q:\n%s", banned, body)
		}
	}
	if got := strings.Count(body, "event: done"); got != 1 {
		t.Errorf("done events = %d, want exactly 1", got)
	}
}

func TestChatValidation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &scriptedGenerator{}, testConfig())
	client := clientWithJar(t)

	resp, _ := postChat(t, client, srv.URL, `{"session_id":"s","user_message":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", resp.StatusCode)
	}

	resp, _ = postChat(t, client, srv.URL, `{nope`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", resp.StatusCode)
	}
}

func TestChatRateLimit(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RatePerMinute = 1
	srv, _ := newTestServer(t, &scriptedGenerator{}, cfg)
	client := clientWithJar(t)

	resp, _ := postChat(t, client, srv.URL, `{"session_id":"s","user_message":"첫 요청"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d", resp.StatusCode)
	}
	resp, _ = postChat(t, client, srv.URL, `{"session_id":"s","user_message":"둘째 요청"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", resp.StatusCode)
	}
}

func TestTitleGenerated(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{}
	srv, _ := newTestServer(t, gen, testConfig())
	client := clientWithJar(t)

	resp, err := client.Post(srv.URL+"/agent/title", "application/json",
		strings.NewReader(`{"user_message":"퇴사하고 유튜브나 할까"}`))
	if err != nil {
		t.Fatalf("POST /agent/title: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]string
	if err := jsonDecode(resp, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["title"] != "멋진 제목" {
		t.Errorf("title = %q", got["title"])
	}
	if !strings.Contains(gen.titleSystem, "Write the title in Korean") {
		t.Errorf("title prompt missing detected language: %q", gen.titleSystem)
	}
}

func TestTitleFallbackOnModelFailure(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("아", 40)
	srv, _ := newTestServer(t, &scriptedGenerator{titleErr: errors.New("model down")}, testConfig())
	client := clientWithJar(t)

	resp, err := client.Post(srv.URL+"/agent/title", "application/json",
		strings.NewReader(fmt.Sprintf(`{"user_message":%q}`, long)))
	if err != nil {
		t.Fatalf("POST /agent/title: %v", err)
	}
	defer resp.Body.Close()
	var got map[string]string
	if err := jsonDecode(resp, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["title"] != strings.Repeat("아", 15) {
		t.Errorf("fallback title = %q, want 15-rune truncation", got["title"])
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &scriptedGenerator{}, testConfig())
	client := clientWithJar(t)

	resp, err := client.Get(srv.URL + "/agent/health")
	if err != nil {
		t.Fatalf("GET /agent/health: %v", err)
	}
	defer resp.Body.Close()
	var got HealthResponse
	if err := jsonDecode(resp, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" || got.Model != "test-model" || got.Search != "duckduckgo" {
		t.Errorf("health = %+v", got)
	}
}
