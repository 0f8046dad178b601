package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stemsi/exam-runner/internal/exam"
	"github.com/stemsi/exam-runner/internal/response"
	"github.com/stemsi/exam-runner/internal/service"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   response.ErrCode
	}{
		{"unknown session", service.ErrSessionNotFound, http.StatusNotFound, response.ErrNotFound},
		{"definition 404", &exam.DefinitionLoadError{Status: 404, Message: "gone"}, http.StatusNotFound, response.ErrNotFound},
		{"definition transport", &exam.DefinitionLoadError{Message: "refused"}, http.StatusBadGateway, response.ErrDefinitionUnavailable},
		{"superseded", service.ErrAttemptSuperseded, http.StatusUnauthorized, response.ErrSessionInvalidated},
		{"reset underneath", exam.ErrAttemptClosed, http.StatusUnauthorized, response.ErrSessionInvalidated},
		{"not started", exam.ErrExamNotStarted, http.StatusConflict, response.ErrExamNotStarted},
		{"wrapped expired", fmt.Errorf("submit: %w", exam.ErrTaskExpired), http.StatusConflict, response.ErrTaskExpired},
		{"first task", exam.ErrNoPreviousTask, http.StatusConflict, response.ErrBackNotAllowed},
		{"runner down", fmt.Errorf("%w: boom", exam.ErrCodeCheck), http.StatusBadGateway, response.ErrCodeCheckFailed},
		{"anything else", errors.New("disk full"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
