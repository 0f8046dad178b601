package exam

import (
	"fmt"

	"github.com/stemsi/exam-runner/internal/model"
)

// FlatTask is one entry of the linear task order shown to a candidate.
// It carries exactly one payload: a question or an algorithmic task.
type FlatTask struct {
	Index int
	Key   string

	kind      model.TaskKind
	question  *model.Question
	algorithm *model.AlgorithmTask
}

// Kind returns the task tag.
func (t FlatTask) Kind() model.TaskKind { return t.kind }

// Question returns the question payload when the task is a question.
func (t FlatTask) Question() (*model.Question, bool) {
	return t.question, t.kind == model.TaskKindQuestion
}

// Algorithm returns the algorithmic payload when the task is one.
func (t FlatTask) Algorithm() (*model.AlgorithmTask, bool) {
	return t.algorithm, t.kind == model.TaskKindAlgorithm
}

// Match dispatches on the task kind. Both branches are required, so every
// consumer handles both payload shapes.
func Match[R any](t FlatTask, onQuestion func(*model.Question) R, onAlgorithm func(*model.AlgorithmTask) R) R {
	switch t.kind {
	case model.TaskKindQuestion:
		return onQuestion(t.question)
	case model.TaskKindAlgorithm:
		return onAlgorithm(t.algorithm)
	}
	panic(fmt.Sprintf("exam: unknown task kind %q", t.kind))
}

// QuestionKey is the task key of a question.
func QuestionKey(id int) string {
	return fmt.Sprintf("%s_%d", model.TaskKindQuestion, id)
}

// AlgorithmKey is the task key of an algorithmic task.
func AlgorithmKey(taskID string) string {
	return fmt.Sprintf("%s_%s", model.TaskKindAlgorithm, taskID)
}

// Flatten builds the task order: every question in set order, then every
// algorithmic task. The result depends only on def, so indexes persisted
// against it stay valid across reloads of the same definition.
func Flatten(def *model.ExamDefinition) []FlatTask {
	if def == nil {
		return nil
	}

	tasks := make([]FlatTask, 0, def.QuestionCount()+len(def.AlgorithmTasks))
	for ti := range def.Tests {
		for qi := range def.Tests[ti].Questions {
			q := &def.Tests[ti].Questions[qi]
			tasks = append(tasks, FlatTask{
				Index:    len(tasks),
				Key:      QuestionKey(q.ID),
				kind:     model.TaskKindQuestion,
				question: q,
			})
		}
	}
	for ai := range def.AlgorithmTasks {
		a := &def.AlgorithmTasks[ai]
		tasks = append(tasks, FlatTask{
			Index:     len(tasks),
			Key:       AlgorithmKey(a.TaskID),
			kind:      model.TaskKindAlgorithm,
			algorithm: a,
		})
	}
	return tasks
}

// newAnswer builds the Answer record for a task.
func newAnswer(t FlatTask, text string, at int64) model.Answer {
	a := model.Answer{
		TaskKey:     t.Key,
		Kind:        t.kind,
		Text:        text,
		SubmittedAt: at,
	}
	Match(t,
		func(q *model.Question) struct{} {
			id := q.ID
			a.QuestionID = &id
			return struct{}{}
		},
		func(alg *model.AlgorithmTask) struct{} {
			id := alg.TaskID
			a.TaskID = &id
			return struct{}{}
		},
	)
	return a
}
