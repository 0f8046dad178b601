package exam

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stemsi/exam-runner/internal/model"
)

// memStore is a ProgressStore keeping one progress per token in memory.
type memStore struct {
	mu       sync.Mutex
	data     map[string]*model.SessionProgress
	fail     bool
	writes   int
	finished int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]*model.SessionProgress)}
}

var errStoreDown = errors.New("store down")

func (m *memStore) get(token string) *model.SessionProgress {
	p, ok := m.data[token]
	if !ok {
		p = model.NewSessionProgress()
		m.data[token] = p
	}
	return p
}

func (m *memStore) write(token string, fn func(p *model.SessionProgress)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	m.writes++
	fn(m.get(token))
	return nil
}

func (m *memStore) Load(_ context.Context, token string) (*model.SessionProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.get(token)
	cp := *src
	cp.Answers = append([]model.Answer{}, src.Answers...)
	cp.Timers = make(map[string]int, len(src.Timers))
	for k, v := range src.Timers {
		cp.Timers[k] = v
	}
	cp.CodeCheckResults = make(map[string]model.CodeCheckResult, len(src.CodeCheckResults))
	for k, v := range src.CodeCheckResults {
		cp.CodeCheckResults[k] = v
	}
	return &cp, nil
}

func (m *memStore) SaveAnswers(_ context.Context, token string, answers []model.Answer) error {
	return m.write(token, func(p *model.SessionProgress) {
		p.Answers = append([]model.Answer{}, answers...)
	})
}

func (m *memStore) SaveTimers(_ context.Context, token string, timers map[string]int) error {
	return m.write(token, func(p *model.SessionProgress) {
		p.Timers = make(map[string]int, len(timers))
		for k, v := range timers {
			p.Timers[k] = v
		}
	})
}

func (m *memStore) SaveCurrentIndex(_ context.Context, token string, index int) error {
	return m.write(token, func(p *model.SessionProgress) { p.CurrentTaskIndex = index })
}

func (m *memStore) SaveDraft(_ context.Context, token string, draft string) error {
	return m.write(token, func(p *model.SessionProgress) { p.DraftAnswer = draft })
}

func (m *memStore) SaveCheckResults(_ context.Context, token string, results map[string]model.CodeCheckResult) error {
	return m.write(token, func(p *model.SessionProgress) {
		p.CodeCheckResults = make(map[string]model.CodeCheckResult, len(results))
		for k, v := range results {
			p.CodeCheckResults[k] = v
		}
	})
}

func (m *memStore) SaveElapsed(_ context.Context, token string, seconds int) error {
	return m.write(token, func(p *model.SessionProgress) { p.ElapsedSeconds = seconds })
}

func (m *memStore) MarkFinished(_ context.Context, token string) error {
	return m.write(token, func(p *model.SessionProgress) {
		p.Finished = true
		m.finished++
	})
}

func (m *memStore) progress(token string) model.SessionProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.get(token)
}

// twoQuestionsOneTask is the definition used across sequencer tests:
// question_1, question_2, algorithm_alg-1.
func twoQuestionsOneTask() *model.ExamDefinition {
	return &model.ExamDefinition{
		Description: "Backend screening",
		Tests: []model.QuestionSet{{
			TestID: 10,
			Topic:  "Go basics",
			Questions: []model.Question{
				{ID: 1, Text: "Zero value of a map?", OptionA: "nil", OptionB: "{}", CorrectAnswer: "a"},
				{ID: 2, Text: "Keyword to spawn a goroutine?", OptionA: "async", OptionB: "go", CorrectAnswer: "b"},
			},
		}},
		AlgorithmTasks: []model.AlgorithmTask{{TaskID: "alg-1", Title: "Two sum"}},
	}
}

var fixedClock = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

// finishRecorder collects finish hook calls.
type finishRecorder struct {
	mu    sync.Mutex
	calls []Finish
}

func (f *finishRecorder) hook(ev Finish) {
	f.mu.Lock()
	f.calls = append(f.calls, ev)
	f.mu.Unlock()
}

func (f *finishRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
