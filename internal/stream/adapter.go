package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/grogi/agent-server/internal/prompts"
	"github.com/grogi/agent-server/internal/turn"
)

// Adapter translates executor node lifecycle signals and generation chunks
// into the ordered wire event sequence for one turn. It is a
// graph.Observer; wire it into the run with the executor, and its Token
// method into the context via WithTokenSink. Every turn ends with exactly
// one done event, emitted by Finish.
type Adapter struct {
	sink Sink
	pack *prompts.Pack

	mu          sync.Mutex
	streamed    strings.Builder
	sectionSent bool
	terminal    bool
	sendErr     error
}

func NewAdapter(sink Sink, pack *prompts.Pack) *Adapter {
	return &Adapter{sink: sink, pack: pack}
}

// send forwards one event unless the turn already terminated or an earlier
// write failed. Write failures mean the client went away; the run is torn
// down by request-context cancellation, not by the adapter.
func (a *Adapter) send(event string, data any) {
	if a.terminal || a.sendErr != nil {
		return
	}
	if err := a.sink.Send(event, data); err != nil {
		a.sendErr = err
		slog.Warn("Event delivery failed, muting stream", "event", event, "error", err)
	}
}

func (a *Adapter) NodeStarted(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch id {
	case turn.NodeSafetyCheck:
		a.send(EventStatus, StatusPayload{Step: "start", Detail: "분석을 시작했어"})
		a.send(EventAnalysisPreview, PreviewPayload{Summary: "analyzing"})
	case turn.NodeGenerateAnswer:
		a.streamed.Reset()
		if !a.sectionSent {
			a.sectionSent = true
			a.send(EventSection, SectionPayload{Type: "diagnosis"})
		} else {
			a.send(EventStatus, StatusPayload{Step: "refine", Detail: "답변을 다듬는 중"})
		}
	}
}

func (a *Adapter) NodeFinished(id string, st *turn.State, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch id {
	case turn.NodeSafetyCheck:
		switch st.CrisisLevel {
		case turn.Crisis:
			a.send(EventCrisis, a.pack.CrisisPayload())
			a.finishLocked()
		case turn.CrisisUnclear:
			a.send(EventToken, TokenPayload{Content: a.pack.UnclearPrompt})
			a.finishLocked()
		}
	case turn.NodeWebSearch:
		if st.SearchQuery == "" || st.SearchFindings != "" || st.SearchAttempts >= turn.MaxSearchAttempts {
			a.send(EventStatus, StatusPayload{Step: "search_done", Detail: "정보 수집 완료"})
		}
	case turn.NodeCritiqueAnswer:
		if st.AnswerCritique == turn.CritiquePass || st.AnswerRetryCount >= turn.MaxAnswerRetries {
			// The answer is final. If streaming never delivered it (no sink
			// in context, or generation fell back), emit it as one block.
			if a.streamed.String() != st.AnswerText {
				a.streamed.Reset()
				a.send(EventToken, TokenPayload{Content: st.AnswerText})
			}
		}
	case turn.NodeCalculateScore:
		if st.Score != nil {
			a.send(EventScore, (*ScorePayload)(st.Score))
		}
		if st.ShareCard != nil {
			a.send(EventShareCard, (*ShareCardPayload)(st.ShareCard))
		}
	}
}

func (a *Adapter) NodeSkipped(string) {}

// Token forwards one generation chunk in arrival order. It is installed as
// the run's TokenSink.
func (a *Adapter) Token(chunk string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streamed.WriteString(chunk)
	a.send(EventToken, TokenPayload{Content: chunk})
}

// Finish closes the event sequence after the executor returns. A run error
// produces a single error event before done; a turn that already reached a
// terminal (crisis, unclear) emits nothing further.
func (a *Adapter) Finish(runErr error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.terminal {
		return
	}
	if runErr != nil {
		code := "turn_failed"
		if errors.Is(runErr, context.DeadlineExceeded) {
			code = "turn_timeout"
		}
		a.send(EventError, ErrorPayload{Code: code, Message: runErr.Error()})
	}
	a.finishLocked()
}

func (a *Adapter) finishLocked() {
	a.send(EventDone, struct{}{})
	a.terminal = true
}
