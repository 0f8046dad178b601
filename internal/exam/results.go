package exam

import (
	"math"
	"strconv"
	"strings"

	"github.com/stemsi/exam-runner/internal/model"
)

const subTestPassed = "PASSED"

// ViolationReader exposes the anti-cheat flag at finish time.
type ViolationReader interface {
	Detected() bool
}

// ComputeResults scores an attempt. Inputs are not modified.
//
// The question score counts answers whose text equals the correct option
// letter ignoring case. The algorithm score counts PASSED sub-tests across
// the latest report of every algorithmic task. Both are rounded percentages,
// "0" when there is nothing to score. A nil violations reader reports "false".
func ComputeResults(
	def *model.ExamDefinition,
	answers []model.Answer,
	checks map[string]model.CodeCheckResult,
	violations ViolationReader,
) model.ExamResults {
	res := model.ExamResults{
		TestPercentage:      "0",
		AlgorithmPercentage: "0",
		ViolationDetected:   "false",
	}
	if violations != nil && violations.Detected() {
		res.ViolationDetected = "true"
	}
	if def == nil {
		return res
	}

	byKey := make(map[string]string, len(answers))
	for _, a := range answers {
		byKey[a.TaskKey] = a.Text
	}

	correct, total := 0, 0
	for _, t := range def.Tests {
		for _, q := range t.Questions {
			total++
			if got, ok := byKey[QuestionKey(q.ID)]; ok && strings.EqualFold(got, q.CorrectAnswer) {
				correct++
			}
		}
	}
	res.TestPercentage = percentage(correct, total)

	passed, subTests := 0, 0
	for _, task := range def.AlgorithmTasks {
		report, ok := checks[task.TaskID]
		if !ok {
			continue
		}
		for _, r := range report.Results {
			subTests++
			if strings.EqualFold(r.Status, subTestPassed) {
				passed++
			}
		}
	}
	res.AlgorithmPercentage = percentage(passed, subTests)

	return res
}

func percentage(part, whole int) string {
	if whole == 0 {
		return "0"
	}
	return strconv.Itoa(int(math.Round(float64(part) / float64(whole) * 100)))
}
