package stage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/grogi/agent-server/internal/ports"
	"github.com/grogi/agent-server/internal/session"
	"github.com/grogi/agent-server/internal/turn"
)

const (
	noImagesSentinel  = "이미지 없음"
	imageOnlyDocsNote = "문서에 추출 가능한 텍스트가 없음(이미지 전용). 페이지 이미지를 근거로 사용할 것."

	fallbackLanguage = "Korean"
	maxDocuments     = 3
)

// DetectLanguage writes the detected language of the user message, falling
// back to Korean on any failure.
func (s *Stages) DetectLanguage(ctx context.Context, st *turn.State) error {
	raw, err := s.classify.Generate(ctx, s.pack.LanguageDetector, nil, ports.Message{
		Role:    ports.RoleUser,
		Content: st.UserMessage,
	})
	lang := strings.TrimSpace(raw)
	if err != nil || lang == "" {
		if err != nil {
			slog.Warn("Language detection failed, defaulting", "session_id", st.SessionID, "error", err)
		}
		st.DetectedLanguage = fallbackLanguage
		return nil
	}
	st.DetectedLanguage = lang
	return nil
}

// AnalyzeCategory classifies the message into the closed category set.
func (s *Stages) AnalyzeCategory(ctx context.Context, st *turn.State) error {
	raw, err := s.classify.Generate(ctx, s.pack.CategoryClassifier, nil, ports.Message{
		Role:    ports.RoleUser,
		Content: st.UserMessage,
	})
	if err != nil {
		slog.Warn("Category classification failed, defaulting", "session_id", st.SessionID, "error", err)
		st.Category = turn.CategoryEtc
		return nil
	}
	st.Category = turn.NormalizeCategory(raw)
	return nil
}

// AnalyzeImages extracts factual observations from attached images via the
// vision-capable generator.
func (s *Stages) AnalyzeImages(ctx context.Context, st *turn.State) error {
	if len(st.Images) == 0 {
		st.ImageAnalysis = noImagesSentinel
		return nil
	}

	result, err := s.gen.Generate(ctx, s.pack.ImageAnalyst, nil, ports.Message{
		Role:    ports.RoleUser,
		Content: "이 이미지를 분석해줘.",
		Images:  st.Images,
	})
	if err != nil {
		st.ImageAnalysis = fmt.Sprintf("이미지 분석 실패: %v", err)
		return fmt.Errorf("image analysis failed: %w", err)
	}
	st.ImageAnalysis = result
	return nil
}

// ExtractDocuments grounds the turn on attached documents. Turns without new
// attachments reuse the session's cached extraction until its TTL expires;
// turns with attachments extract fresh and overwrite the cache.
func (s *Stages) ExtractDocuments(ctx context.Context, st *turn.State) error {
	if len(st.Documents) == 0 {
		if cached, ok := s.sessions.Documents.Get(st.SessionID); ok {
			st.DocumentText = cached.Text
			st.DocumentPageImages = cached.PageImages
		}
		return nil
	}

	docs := st.Documents
	if len(docs) > maxDocuments {
		docs = docs[:maxDocuments]
	}

	var texts []string
	var pageImages []string
	for _, doc := range docs {
		raw, err := base64.StdEncoding.DecodeString(doc.Content)
		if err != nil {
			texts = append(texts, fmt.Sprintf("[%s] 문서 해석 실패: 잘못된 인코딩", doc.Filename))
			continue
		}
		ex, err := s.extract.Extract(ctx, doc.Filename, raw)
		if err != nil {
			st.DocumentText = fmt.Sprintf("문서 추출 실패: %v", err)
			return fmt.Errorf("document extraction failed: %w", err)
		}
		if ex.ImageOnly {
			texts = append(texts, fmt.Sprintf("[%s] %s", doc.Filename, imageOnlyDocsNote))
		} else if joined := strings.TrimSpace(strings.Join(ex.PageTexts, "\n")); joined != "" {
			texts = append(texts, fmt.Sprintf("[%s]\n%s", doc.Filename, joined))
		}
		pageImages = append(pageImages, ex.PageImages...)
	}

	st.DocumentText = strings.Join(texts, "\n\n")
	st.DocumentPageImages = pageImages

	// Failed extractions are not cached; the next turn retries.
	s.sessions.Documents.Put(st.SessionID, session.ExtractedDocument{
		Text:       st.DocumentText,
		PageImages: st.DocumentPageImages,
	})
	return nil
}
