package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamDefinition is the immutable snapshot of an exam session as seen by one
// candidate: ordered question sets followed by ordered algorithmic tasks.
type ExamDefinition struct {
	SessionID      uuid.UUID       `json:"session_id"`
	Description    string          `json:"description"`
	CreatedAt      time.Time       `json:"created_at"`
	Tests          []QuestionSet   `json:"tests"`
	AlgorithmTasks []AlgorithmTask `json:"algorithm_tasks"`
}

// QuestionSet is a topic-scoped group of multiple-choice questions.
type QuestionSet struct {
	TestID        int        `json:"test_id"`
	SessionID     uuid.UUID  `json:"session_id"`
	Topic         string     `json:"topic"`
	QuestionCount int        `json:"question_count"`
	CreatedAt     time.Time  `json:"created_at"`
	Questions     []Question `json:"questions"`
}

// AlgorithmTask is a coding task checked by the external code runner.
type AlgorithmTask struct {
	TaskID      string    `json:"task_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Difficulty  string    `json:"difficulty"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// ExamPayload is the candidate-facing definition (no correct answers).
type ExamPayload struct {
	SessionID      uuid.UUID            `json:"session_id"`
	Description    string               `json:"description"`
	Tests          []QuestionSetPayload `json:"tests"`
	AlgorithmTasks []AlgorithmTask      `json:"algorithm_tasks"`
}

// QuestionSetPayload is a QuestionSet stripped of correct answers.
type QuestionSetPayload struct {
	TestID    int                    `json:"test_id"`
	Topic     string                 `json:"topic"`
	Questions []QuestionForCandidate `json:"questions"`
}

// Payload strips correct answers from the definition.
func (d *ExamDefinition) Payload() *ExamPayload {
	p := &ExamPayload{
		SessionID:      d.SessionID,
		Description:    d.Description,
		Tests:          make([]QuestionSetPayload, len(d.Tests)),
		AlgorithmTasks: d.AlgorithmTasks,
	}
	if p.AlgorithmTasks == nil {
		p.AlgorithmTasks = []AlgorithmTask{}
	}
	for i, t := range d.Tests {
		qs := make([]QuestionForCandidate, len(t.Questions))
		for j, q := range t.Questions {
			qs[j] = q.ForCandidate()
		}
		p.Tests[i] = QuestionSetPayload{TestID: t.TestID, Topic: t.Topic, Questions: qs}
	}
	return p
}

// QuestionCount returns the number of questions across all sets.
func (d *ExamDefinition) QuestionCount() int {
	n := 0
	for _, t := range d.Tests {
		n += len(t.Questions)
	}
	return n
}
