package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/core/errs"
	"github.com/classmate-app/classmate/internal/models"
	"github.com/classmate-app/classmate/internal/retrieval"
)

const answerSystemPrompt = `You are a study assistant for the course %q.
Answer the student's question using ONLY the course material excerpts provided.
If the excerpts don't fully answer the question, say what the material covers and what it doesn't.
Never invent facts that are not in the excerpts. Be concise and direct.`

const noContextSystemPrompt = `You are a study assistant for the course %q.
No course material matched the student's question. Say so plainly, then give
at most two sentences of general guidance. Do not pretend to quote the course.`

// ChatMessage is one prior turn of the conversation, oldest first.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatAnswer is the orchestrated response. NoContext distinguishes "nothing
// relevant in this course" from a grounded answer.
type ChatAnswer struct {
	Answer    string            `json:"answer"`
	Citations []models.Citation `json:"citations"`
	NoContext bool              `json:"no_context"`
}

// Retriever yields ranked context windows for a course question.
type Retriever interface {
	Retrieve(ctx context.Context, courseID, query string) ([]models.ContextWindow, error)
}

// ChatService answers course questions: retrieve, assemble a bounded prompt,
// generate, cite.
type ChatService struct {
	db        core.DbClient
	retriever Retriever
	llm       core.LLMProvider

	maxWindows      int
	maxHistory      int
	snippetMax      int
	generateTimeout time.Duration
}

func NewChatService(db core.DbClient, retriever Retriever, llm core.LLMProvider, maxWindows, maxHistory, snippetMax int, generateTimeout time.Duration) *ChatService {
	return &ChatService{
		db:              db,
		retriever:       retriever,
		llm:             llm,
		maxWindows:      maxWindows,
		maxHistory:      maxHistory,
		snippetMax:      snippetMax,
		generateTimeout: generateTimeout,
	}
}

// Answer retrieves context for the question and generates a grounded reply.
// Retrieval failures degrade to a no-context answer; only generation failures
// surface as errors.
func (s *ChatService) Answer(ctx context.Context, courseID, question string, history []ChatMessage) (*ChatAnswer, error) {
	log := zerolog.Ctx(ctx)

	course, err := s.db.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, fmt.Errorf("course %s not found", courseID)
	}

	// Retrieval never fails the chat turn. Timeouts, index outages, and
	// embedding errors all degrade to a no-context answer.
	windows, err := s.retriever.Retrieve(ctx, courseID, question)
	if err != nil {
		log.Warn().Err(err).Str("course_id", courseID).Msg("retrieval failed, answering without context")
		windows = nil
	}
	windows = topWindowsPerAsset(windows, s.maxWindows)

	genCtx, cancel := context.WithTimeout(ctx, s.generateTimeout)
	defer cancel()

	if len(windows) == 0 {
		answer, err := s.llm.Generate(genCtx, fmt.Sprintf(noContextSystemPrompt, course.Name), s.userPrompt(question, history, nil))
		if err != nil {
			return nil, &errs.GenerationError{Err: err}
		}
		return &ChatAnswer{Answer: answer, Citations: []models.Citation{}, NoContext: true}, nil
	}

	answer, err := s.llm.Generate(genCtx, fmt.Sprintf(answerSystemPrompt, course.Name), s.userPrompt(question, history, windows))
	if err != nil {
		return nil, &errs.GenerationError{Err: err}
	}

	return &ChatAnswer{
		Answer:    answer,
		Citations: retrieval.BuildCitations(windows, s.snippetMax),
	}, nil
}

// topWindowsPerAsset keeps at most the best window of each asset, up to max
// windows total. Windows arrive best first, so first occurrence wins.
func topWindowsPerAsset(windows []models.ContextWindow, max int) []models.ContextWindow {
	if max <= 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(windows))
	kept := windows[:0:0]
	for _, w := range windows {
		if _, dup := seen[w.AssetID]; dup {
			continue
		}
		seen[w.AssetID] = struct{}{}
		kept = append(kept, w)
		if len(kept) == max {
			break
		}
	}
	return kept
}

// userPrompt lays out excerpts, recent history, and the question. History is
// capped to the most recent turns.
func (s *ChatService) userPrompt(question string, history []ChatMessage, windows []models.ContextWindow) string {
	var sb strings.Builder

	if len(windows) > 0 {
		sb.WriteString("Course material excerpts:\n\n")
		for i, w := range windows {
			fmt.Fprintf(&sb, "[%d] %s", i+1, w.Title)
			if w.Kind == models.KindVideo {
				if w.ChapterTitle != "" {
					fmt.Fprintf(&sb, " / %s", w.ChapterTitle)
				}
				fmt.Fprintf(&sb, " (%.0fs-%.0fs)", w.StartPos, w.EndPos)
			} else {
				fmt.Fprintf(&sb, " (page %d)", int(w.StartPos))
			}
			sb.WriteString("\n")
			sb.WriteString(w.Text)
			sb.WriteString("\n\n")
		}
	}

	if keep := s.maxHistory; keep > 0 && len(history) > 0 {
		if len(history) > keep {
			history = history[len(history)-keep:]
		}
		sb.WriteString("Conversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}
