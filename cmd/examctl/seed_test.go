package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSeed = `
description = "Backend selection"
candidates  = ["Ayu", "Bima"]

[[tests]]
topic = "Go basics"
  [[tests.questions]]
  text    = "Which keyword starts a goroutine?"
  options = ["go", "async", "spawn", "defer"]
  correct = "A"

  [[tests.questions]]
  text    = "Zero value of a map?"
  options = ["{}", "nil", "0", "panic"]
  correct = "b"

[[algorithm_tasks]]
task_id    = "two-sum"
title      = "Two Sum"
difficulty = "easy"
`

func TestParseSeed(t *testing.T) {
	def, names, err := parseSeed([]byte(validSeed))
	require.NoError(t, err)

	assert.Equal(t, []string{"Ayu", "Bima"}, names)
	assert.Equal(t, "Backend selection", def.Description)
	require.Len(t, def.Tests, 1)
	assert.Equal(t, 2, def.Tests[0].QuestionCount)
	assert.Equal(t, "a", def.Tests[0].Questions[0].CorrectAnswer)
	assert.Equal(t, "nil", def.Tests[0].Questions[1].OptionB)
	require.Len(t, def.AlgorithmTasks, 1)
	assert.Equal(t, "two-sum", def.AlgorithmTasks[0].TaskID)
	assert.Equal(t, 2, def.QuestionCount())
}

func TestParseSeed_Invalid(t *testing.T) {
	tests := map[string]struct {
		doc  string
		want string
	}{
		"malformed": {doc: `description = `, want: "parse seed TOML"},
		"no candidates": {
			doc:  "[[algorithm_tasks]]\ntask_id = \"x\"",
			want: "at least one candidate",
		},
		"no tasks": {doc: `candidates = ["a"]`, want: "no tasks"},
		"bad letter": {
			doc: `candidates = ["a"]
[[tests]]
topic = "t"
  [[tests.questions]]
  text = "q"
  options = ["1", "2", "3", "4"]
  correct = "e"`,
			want: "correct must be one of a-d",
		},
		"three options": {
			doc: `candidates = ["a"]
[[tests]]
topic = "t"
  [[tests.questions]]
  text = "q"
  options = ["1", "2", "3"]
  correct = "a"`,
			want: "want 4 options",
		},
		"duplicate task": {
			doc: `candidates = ["a"]
[[algorithm_tasks]]
task_id = "x"
[[algorithm_tasks]]
task_id = "x"`,
			want: "duplicate task_id",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := parseSeed([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
