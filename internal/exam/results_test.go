package exam

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stemsi/exam-runner/internal/model"
)

type flag bool

func (f flag) Detected() bool { return bool(f) }

func answerFor(id int, text string) model.Answer {
	return model.Answer{TaskKey: QuestionKey(id), Kind: model.TaskKindQuestion, Text: text}
}

func TestComputeResults_TestPercentage(t *testing.T) {
	correct := []string{"a", "b", "c", "d", "a"}
	given := []string{"a", "B", "x", "d", "a"}

	def := &model.ExamDefinition{Tests: []model.QuestionSet{{}}}
	var answers []model.Answer
	for i := range correct {
		def.Tests[0].Questions = append(def.Tests[0].Questions, model.Question{ID: i + 1, CorrectAnswer: correct[i]})
		answers = append(answers, answerFor(i+1, given[i]))
	}

	res := ComputeResults(def, answers, nil, nil)

	assert.Equal(t, "80", res.TestPercentage)
	assert.Equal(t, "0", res.AlgorithmPercentage)
	assert.Equal(t, "false", res.ViolationDetected)
}

func TestComputeResults_NoQuestions(t *testing.T) {
	res := ComputeResults(&model.ExamDefinition{}, nil, nil, nil)
	assert.Equal(t, "0", res.TestPercentage)
	assert.Equal(t, "0", res.AlgorithmPercentage)
}

func TestComputeResults_UnansweredCountsAsWrong(t *testing.T) {
	def := twoQuestionsOneTask()
	res := ComputeResults(def, []model.Answer{answerFor(1, "a")}, nil, nil)
	assert.Equal(t, "50", res.TestPercentage)
}

func TestComputeResults_AlgorithmPercentage(t *testing.T) {
	def := twoQuestionsOneTask()
	checks := map[string]model.CodeCheckResult{
		"alg-1": {Status: "FAILED", Results: []model.TestCaseResult{
			{TestIndex: 0, Status: "PASSED"},
			{TestIndex: 1, Status: "FAILED"},
			{TestIndex: 2, Status: "passed"},
			{TestIndex: 3, Status: "PASSED"},
		}},
		// Reports for tasks outside the definition are ignored.
		"stale": {Results: []model.TestCaseResult{{Status: "FAILED"}}},
	}

	res := ComputeResults(def, nil, checks, nil)

	assert.Equal(t, "75", res.AlgorithmPercentage)
}

func TestComputeResults_Rounding(t *testing.T) {
	def := &model.ExamDefinition{Tests: []model.QuestionSet{{Questions: []model.Question{
		{ID: 1, CorrectAnswer: "a"}, {ID: 2, CorrectAnswer: "a"}, {ID: 3, CorrectAnswer: "a"},
	}}}}

	assert.Equal(t, "33", ComputeResults(def, []model.Answer{answerFor(1, "a")}, nil, nil).TestPercentage)
	assert.Equal(t, "67", ComputeResults(def, []model.Answer{answerFor(1, "a"), answerFor(2, "A")}, nil, nil).TestPercentage)
}

func TestComputeResults_Violation(t *testing.T) {
	def := twoQuestionsOneTask()
	assert.Equal(t, "true", ComputeResults(def, nil, nil, flag(true)).ViolationDetected)
	assert.Equal(t, "false", ComputeResults(def, nil, nil, flag(false)).ViolationDetected)
}

func TestComputeResults_DoesNotMutateInputs(t *testing.T) {
	def := twoQuestionsOneTask()
	answers := []model.Answer{answerFor(2, "b")}
	checks := map[string]model.CodeCheckResult{"alg-1": {Results: []model.TestCaseResult{{Status: "PASSED"}}}}

	ComputeResults(def, answers, checks, nil)

	assert.Equal(t, twoQuestionsOneTask(), def)
	assert.Len(t, answers, 1)
	assert.Len(t, checks, 1)
}
