package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type submitPayload struct {
	TaskKey string `json:"task_key" binding:"required,taskkey"`
	Answer  string `json:"answer" binding:"required"`
}

func TestValidTaskKey(t *testing.T) {
	for key, want := range map[string]bool{
		"question_1":         true,
		"question_42":        true,
		"algorithm_two-sum":  true,
		"algorithm_":         false,
		"question_x":         false,
		"question_1 ":        false,
		"essay_1":            false,
		"":                   false,
		"algorithm_two sum":  false,
		"algorithm_fizzbuzz": true,
	} {
		assert.Equal(t, want, ValidTaskKey(key), key)
	}
}

func TestStruct(t *testing.T) {
	Setup()
	Setup()

	assert.Nil(t, Struct(&submitPayload{TaskKey: "question_1", Answer: "a"}))

	fields := Struct(&submitPayload{TaskKey: "quiz_1"})
	assert.Equal(t, "task_key must name a question or algorithm task", fields["task_key"])
	assert.Equal(t, "answer is a required field", fields["answer"])
}

func TestTranslateErrors_NotValidation(t *testing.T) {
	fields := TranslateErrors(errors.New("unexpected EOF"))
	assert.Equal(t, map[string]string{"detail": "unexpected EOF"}, fields)
}
