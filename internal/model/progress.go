package model

// TaskKind tags a flattened task as a question or an algorithmic task.
type TaskKind string

const (
	TaskKindQuestion  TaskKind = "question"
	TaskKindAlgorithm TaskKind = "algorithm"
)

// Answer is the saved answer for one task. At most one exists per TaskKey.
type Answer struct {
	TaskKey     string   `json:"task_key"`
	Kind        TaskKind `json:"type"`
	QuestionID  *int     `json:"question_id,omitempty"`
	TaskID      *string  `json:"task_id,omitempty"`
	Text        string   `json:"answer"`
	SubmittedAt int64    `json:"submitted_at"`
}

// SessionProgress is the persisted state of one candidate attempt.
type SessionProgress struct {
	CurrentTaskIndex int                        `json:"current_task_index"`
	DraftAnswer      string                     `json:"current_answer"`
	Answers          []Answer                   `json:"answers"`
	Timers           map[string]int             `json:"timers"`
	CodeCheckResults map[string]CodeCheckResult `json:"check_results"`
	ElapsedSeconds   int                        `json:"elapsed_seconds"`
	Started          bool                       `json:"started"`
	Finished         bool                       `json:"finished"`
}

// NewSessionProgress returns an empty progress with allocated maps.
func NewSessionProgress() *SessionProgress {
	return &SessionProgress{
		Answers:          []Answer{},
		Timers:           map[string]int{},
		CodeCheckResults: map[string]CodeCheckResult{},
	}
}

// AnswerFor returns the saved answer for a task key, if any.
func (p *SessionProgress) AnswerFor(taskKey string) (Answer, bool) {
	for _, a := range p.Answers {
		if a.TaskKey == taskKey {
			return a, true
		}
	}
	return Answer{}, false
}

// AnswerRecord is a saved answer queued for durable storage.
type AnswerRecord struct {
	AccessToken string `json:"access_token"`
	Answer
}
