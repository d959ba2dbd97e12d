package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/grogi/agent-server/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return repo
}

func TestSessionRoundtrip(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.EnsureSession(ctx, "sess-1", "anon_user", "career"); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}

	got, err := repo.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil || got.UserID != "anon_user" || got.Category != "career" {
		t.Fatalf("GetSession = %+v", got)
	}

	// Idempotent; the category refreshes.
	if err := repo.EnsureSession(ctx, "sess-1", "anon_user", "love"); err != nil {
		t.Fatalf("EnsureSession twice: %v", err)
	}
	got, _ = repo.GetSession(ctx, "sess-1")
	if got.Category != "love" {
		t.Errorf("Category = %q after re-ensure, want love", got.Category)
	}

	if missing, err := repo.GetSession(ctx, "nope"); err != nil || missing != nil {
		t.Errorf("GetSession(missing) = %+v, %v; want nil, nil", missing, err)
	}
}

func TestSetSessionTitle(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.EnsureSession(ctx, "sess-1", "u", ""); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if err := repo.SetSessionTitle(ctx, "sess-1", "퇴사 고민 상담"); err != nil {
		t.Fatalf("SetSessionTitle: %v", err)
	}
	got, _ := repo.GetSession(ctx, "sess-1")
	if got.Title != "퇴사 고민 상담" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestMessageHistoryOrderAndCap(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.EnsureSession(ctx, "sess-1", "u", ""); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}

	contents := []string{"첫 질문", "첫 답변", "둘째 질문", "둘째 답변"}
	for i, c := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if _, err := repo.AppendMessage(ctx, &domain.Message{
			SessionID: "sess-1",
			Role:      role,
			Content:   c,
		}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := repo.History(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("History returned %d messages, want 4", len(msgs))
	}
	for i, m := range msgs {
		if m.Content != contents[i] {
			t.Errorf("History[%d] = %q, want %q (chronological order)", i, m.Content, contents[i])
		}
	}

	capped, err := repo.History(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("History capped: %v", err)
	}
	if len(capped) != 2 || capped[1].Content != "둘째 답변" {
		t.Errorf("capped History = %+v, want the 2 most recent in order", capped)
	}
}

func TestHistoryKeepsAppendOrderWithinSameInstant(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.EnsureSession(ctx, "sess-1", "u", ""); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}

	// Back-to-back writes of one exchange land on identical timestamps;
	// random message ids must not decide the order.
	now := time.Now()
	contents := []string{"질문 1", "답변 1", "질문 2", "답변 2", "질문 3", "답변 3"}
	for i, c := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if _, err := repo.AppendMessage(ctx, &domain.Message{
			SessionID: "sess-1",
			Role:      role,
			Content:   c,
			CreatedAt: now,
		}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := repo.History(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != len(contents) {
		t.Fatalf("History returned %d messages, want %d", len(msgs), len(contents))
	}
	for i, m := range msgs {
		if m.Content != contents[i] {
			t.Errorf("History[%d] = %q, want %q (append order)", i, m.Content, contents[i])
		}
	}

	capped, err := repo.History(ctx, "sess-1", 4)
	if err != nil {
		t.Fatalf("History capped: %v", err)
	}
	if len(capped) != 4 || capped[0].Content != "질문 2" || capped[3].Content != "답변 3" {
		t.Errorf("capped History = %+v, want the 4 most recent in append order", capped)
	}
}

func TestMessageScoreFields(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.EnsureSession(ctx, "sess-1", "u", ""); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}

	total := 58
	breakdown, _ := json.Marshal(domain.ScoreBreakdown{GoalRealism: 15, EffortSpecificity: 8, ExternalBlame: 12, InfoSeeking: 5, TimeUrgency: 18})
	bd := string(breakdown)

	id, err := repo.AppendMessage(ctx, &domain.Message{
		SessionID:      "sess-1",
		Role:           "assistant",
		Content:        "분석 결과",
		RealityScore:   &total,
		ScoreBreakdown: &bd,
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if id == "" {
		t.Fatal("AppendMessage returned empty id")
	}

	msgs, err := repo.History(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	got := msgs[0]
	if got.RealityScore == nil || *got.RealityScore != 58 {
		t.Errorf("RealityScore = %v, want 58", got.RealityScore)
	}
	if got.ScoreBreakdown == nil {
		t.Fatal("ScoreBreakdown missing")
	}
	var decoded domain.ScoreBreakdown
	if err := json.Unmarshal([]byte(*got.ScoreBreakdown), &decoded); err != nil {
		t.Fatalf("breakdown decode: %v", err)
	}
	if decoded.Sum() != 58 {
		t.Errorf("breakdown sum = %d, want 58", decoded.Sum())
	}
}

func TestShareCardRoundtrip(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.EnsureSession(ctx, "sess-1", "u", ""); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	msgID, err := repo.AppendMessage(ctx, &domain.Message{SessionID: "sess-1", Role: "assistant", Content: "답변"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	actions, _ := json.Marshal([]string{"이력서 업데이트", "채용 공고 3개 분석"})
	if err := repo.SaveShareCard(ctx, &domain.StoredShareCard{
		MessageID: msgID,
		Summary:   "현실 직시 필요",
		Score:     58,
		Actions:   string(actions),
	}); err != nil {
		t.Fatalf("SaveShareCard: %v", err)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
