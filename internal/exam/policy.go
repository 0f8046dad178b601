package exam

import (
	"time"

	"github.com/stemsi/exam-runner/internal/model"
)

const (
	DefaultQuestionSeconds  = 60
	DefaultAlgorithmSeconds = 600
)

// Policy holds the timing rules of an attempt.
type Policy struct {
	QuestionSeconds  int
	AlgorithmSeconds int
	// AllowBackNavigation lets the candidate return to the previous
	// question task. Algorithmic tasks are never revisited.
	AllowBackNavigation bool
	// GlobalLimit finishes the exam once this much active time has passed.
	// Zero disables it.
	GlobalLimit time.Duration
}

// DefaultPolicy returns the per-task budgets without back navigation or a
// global limit.
func DefaultPolicy() Policy {
	return Policy{
		QuestionSeconds:  DefaultQuestionSeconds,
		AlgorithmSeconds: DefaultAlgorithmSeconds,
	}
}

// InitialSeconds returns the starting budget for a task kind.
func (p Policy) InitialSeconds(kind model.TaskKind) int {
	if kind == model.TaskKindAlgorithm {
		return p.AlgorithmSeconds
	}
	return p.QuestionSeconds
}
