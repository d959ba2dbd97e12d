package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/grogi/agent-server/internal/ports"
	"github.com/grogi/agent-server/internal/turn"
)

func TestSafetyDangerKeywordShortCircuits(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	s, _ := newTestStages(t, gen, nil, nil)

	st := turn.NewState("s1", "요즘 너무 힘들어서 자살 생각까지 했어")
	if err := s.SafetyCheck(context.Background(), st); err != nil {
		t.Fatalf("SafetyCheck: %v", err)
	}
	if st.CrisisLevel != turn.Crisis {
		t.Errorf("CrisisLevel = %q, want crisis", st.CrisisLevel)
	}
	if gen.callCount() != 0 {
		t.Errorf("model called %d times, keyword match must bypass it", gen.callCount())
	}
	if RouteSafety(st) != "crisis" {
		t.Errorf("RouteSafety = %q, want crisis", RouteSafety(st))
	}
}

func TestSafetyPendingAffirmationEscalates(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	s, sessions := newTestStages(t, gen, nil, nil)
	sessions.Pending.Put("s1", "죽고 싶다는 그 말")

	st := turn.NewState("s1", "어")
	if err := s.SafetyCheck(context.Background(), st); err != nil {
		t.Fatalf("SafetyCheck: %v", err)
	}
	if st.CrisisLevel != turn.Crisis {
		t.Errorf("CrisisLevel = %q, want crisis via affirmation keyword", st.CrisisLevel)
	}
	if gen.callCount() != 0 {
		t.Error("keyword affirmation must not call the model")
	}
	if _, ok := sessions.Pending.Get("s1"); ok {
		t.Error("pending entry not consumed")
	}
}

func TestSafetyPendingNegationResolvesSafe(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{respond: func(system string, user ports.Message) (string, error) {
		return "safe", nil
	}}
	s, sessions := newTestStages(t, gen, nil, nil)
	sessions.Pending.Put("s1", "아까 한 말")

	st := turn.NewState("s1", "아니 장난이야")
	if err := s.SafetyCheck(context.Background(), st); err != nil {
		t.Fatalf("SafetyCheck: %v", err)
	}
	if st.CrisisLevel != turn.CrisisSafe {
		t.Errorf("CrisisLevel = %q, want safe via negation keyword", st.CrisisLevel)
	}
	if gen.callCount() != 0 {
		t.Error("keyword negation must not call the model")
	}
}

func TestSafetyPendingLongReplyUsesClassifier(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{respond: func(system string, user ports.Message) (string, error) {
		return "crisis", nil
	}}
	s, sessions := newTestStages(t, gen, nil, nil)
	sessions.Pending.Put("s1", "아까 한 말")

	// Too long for keyword matching even though it contains "어".
	st := turn.NewState("s1", "어떻게 말해야 할지 모르겠는데 요즘 정말 힘들어")
	if err := s.SafetyCheck(context.Background(), st); err != nil {
		t.Fatalf("SafetyCheck: %v", err)
	}
	if st.CrisisLevel != turn.Crisis {
		t.Errorf("CrisisLevel = %q, want crisis from confirmation classifier", st.CrisisLevel)
	}
	if gen.callCount() != 1 {
		t.Errorf("model called %d times, want 1", gen.callCount())
	}
}

func TestSafetyUnclearWritesPendingEntry(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{respond: func(system string, user ports.Message) (string, error) {
		return "unclear", nil
	}}
	s, sessions := newTestStages(t, gen, nil, nil)

	st := turn.NewState("s1", "그냥 다 사라지고 싶다")
	if err := s.SafetyCheck(context.Background(), st); err != nil {
		t.Fatalf("SafetyCheck: %v", err)
	}
	if st.CrisisLevel != turn.CrisisUnclear {
		t.Fatalf("CrisisLevel = %q, want unclear", st.CrisisLevel)
	}
	if RouteSafety(st) != "unclear" {
		t.Errorf("RouteSafety = %q, want unclear", RouteSafety(st))
	}

	pending, ok := sessions.Pending.Get("s1")
	if !ok || pending != st.UserMessage {
		t.Errorf("pending entry = %q, %v; want the user message stored", pending, ok)
	}
}

func TestSafetyClassifierFailureDefaultsSafe(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{respond: func(system string, user ports.Message) (string, error) {
		return "", errors.New("model unavailable")
	}}
	s, _ := newTestStages(t, gen, nil, nil)

	st := turn.NewState("s1", "오늘 뭐 먹을지 고민돼")
	if err := s.SafetyCheck(context.Background(), st); err != nil {
		t.Fatalf("SafetyCheck must not propagate classifier errors, got %v", err)
	}
	if st.CrisisLevel != turn.CrisisSafe {
		t.Errorf("CrisisLevel = %q, want safe bias on failure", st.CrisisLevel)
	}
}

func TestNormalizeCrisisLevelBias(t *testing.T) {
	t.Parallel()

	cases := map[string]turn.CrisisLevel{
		"crisis":           turn.Crisis,
		" CRISIS ":         turn.Crisis,
		"unclear":          turn.CrisisUnclear,
		"safe":             turn.CrisisSafe,
		"완전 애매한 출력": turn.CrisisSafe,
		"":                 turn.CrisisSafe,
	}
	for raw, want := range cases {
		if got := turn.NormalizeCrisisLevel(raw); got != want {
			t.Errorf("NormalizeCrisisLevel(%q) = %q, want %q", raw, got, want)
		}
	}
}
