package main

import (
	"errors"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/stemsi/exam-runner/internal/model"
)

// seedFile is the TOML layout accepted by `examctl seed`.
//
//	description = "Backend selection, batch 3"
//	candidates  = ["Ayu", "Bima"]
//
//	[[tests]]
//	topic = "Go basics"
//	  [[tests.questions]]
//	  text    = "Which keyword starts a goroutine?"
//	  options = ["go", "async", "spawn", "defer"]
//	  correct = "a"
//
//	[[algorithm_tasks]]
//	task_id    = "two-sum"
//	title      = "Two Sum"
//	difficulty = "easy"
type seedFile struct {
	Description string   `toml:"description"`
	Candidates  []string `toml:"candidates"`
	Tests       []struct {
		Topic     string `toml:"topic"`
		Questions []struct {
			Text    string   `toml:"text"`
			Options []string `toml:"options"`
			Correct string   `toml:"correct"`
		} `toml:"questions"`
	} `toml:"tests"`
	AlgorithmTasks []struct {
		TaskID      string `toml:"task_id"`
		Title       string `toml:"title"`
		Description string `toml:"description"`
		Difficulty  string `toml:"difficulty"`
	} `toml:"algorithm_tasks"`
}

var optionLetters = mapset.NewSet("a", "b", "c", "d")

// parseSeed decodes and validates a seed document into a definition and the
// candidate names to create.
func parseSeed(data []byte) (*model.ExamDefinition, []string, error) {
	var f seedFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse seed TOML: %w", err)
	}
	if len(f.Candidates) == 0 {
		return nil, nil, errors.New("seed needs at least one candidate")
	}
	if len(f.Tests) == 0 && len(f.AlgorithmTasks) == 0 {
		return nil, nil, errors.New("seed has no tasks")
	}

	def := &model.ExamDefinition{Description: f.Description}
	for ti, t := range f.Tests {
		set := model.QuestionSet{Topic: t.Topic}
		for qi, q := range t.Questions {
			where := fmt.Sprintf("tests[%d].questions[%d]", ti, qi)
			if strings.TrimSpace(q.Text) == "" {
				return nil, nil, fmt.Errorf("%s: empty text", where)
			}
			if len(q.Options) != 4 {
				return nil, nil, fmt.Errorf("%s: want 4 options, got %d", where, len(q.Options))
			}
			correct := strings.ToLower(strings.TrimSpace(q.Correct))
			if !optionLetters.Contains(correct) {
				return nil, nil, fmt.Errorf("%s: correct must be one of a-d, got %q", where, q.Correct)
			}
			set.Questions = append(set.Questions, model.Question{
				Text:          q.Text,
				OptionA:       q.Options[0],
				OptionB:       q.Options[1],
				OptionC:       q.Options[2],
				OptionD:       q.Options[3],
				CorrectAnswer: correct,
			})
		}
		set.QuestionCount = len(set.Questions)
		def.Tests = append(def.Tests, set)
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	for i, a := range f.AlgorithmTasks {
		if a.TaskID == "" {
			return nil, nil, fmt.Errorf("algorithm_tasks[%d]: empty task_id", i)
		}
		if !seen.Add(a.TaskID) {
			return nil, nil, fmt.Errorf("algorithm_tasks[%d]: duplicate task_id %q", i, a.TaskID)
		}
		def.AlgorithmTasks = append(def.AlgorithmTasks, model.AlgorithmTask{
			TaskID:      a.TaskID,
			Title:       a.Title,
			Description: a.Description,
			Difficulty:  a.Difficulty,
		})
	}
	return def, f.Candidates, nil
}
