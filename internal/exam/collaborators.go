package exam

import (
	"context"

	"github.com/stemsi/exam-runner/internal/model"
)

// SessionLoader fetches the exam definition for an access token.
// Failures are reported as *DefinitionLoadError.
type SessionLoader interface {
	FetchSessionByToken(ctx context.Context, accessToken string) (*model.ExamDefinition, error)
}

// CodeChecker runs candidate source against the task's hidden tests.
type CodeChecker interface {
	Check(ctx context.Context, req model.CodeCheckRequest) (*model.CodeCheckResult, error)
}

// ResultsSubmitter posts the final results of an attempt.
type ResultsSubmitter interface {
	SendResults(ctx context.Context, sub model.ResultSubmission) error
}

// ProgressStore persists SessionProgress per access token. Every Save call
// overwrites one field; Load returns an empty progress for unknown tokens.
type ProgressStore interface {
	Load(ctx context.Context, accessToken string) (*model.SessionProgress, error)
	SaveAnswers(ctx context.Context, accessToken string, answers []model.Answer) error
	SaveTimers(ctx context.Context, accessToken string, timers map[string]int) error
	SaveCurrentIndex(ctx context.Context, accessToken string, index int) error
	SaveDraft(ctx context.Context, accessToken string, draft string) error
	SaveCheckResults(ctx context.Context, accessToken string, results map[string]model.CodeCheckResult) error
	SaveElapsed(ctx context.Context, accessToken string, seconds int) error
	MarkFinished(ctx context.Context, accessToken string) error
}
