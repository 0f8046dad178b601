package handler

import (
	"errors"
	"net/http"

	"github.com/stemsi/exam-runner/internal/exam"
	"github.com/stemsi/exam-runner/internal/response"
	"github.com/stemsi/exam-runner/internal/service"
)

// classify maps a domain error to its HTTP status and error code. The
// candidate stream reuses the code in its error events.
func classify(err error) (int, response.ErrCode) {
	var loadErr *exam.DefinitionLoadError
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.As(err, &loadErr):
		if loadErr.Status == http.StatusNotFound {
			return http.StatusNotFound, response.ErrNotFound
		}
		return http.StatusBadGateway, response.ErrDefinitionUnavailable
	case errors.Is(err, service.ErrAttemptTokenInvalid):
		return http.StatusUnauthorized, response.ErrTokenInvalid
	case errors.Is(err, service.ErrAttemptSuperseded), errors.Is(err, exam.ErrAttemptClosed):
		return http.StatusUnauthorized, response.ErrSessionInvalidated
	case errors.Is(err, exam.ErrExamNotStarted):
		return http.StatusConflict, response.ErrExamNotStarted
	case errors.Is(err, exam.ErrExamFinished):
		return http.StatusConflict, response.ErrExamFinished
	case errors.Is(err, exam.ErrEmptyAnswer):
		return http.StatusBadRequest, response.ErrEmptyAnswer
	case errors.Is(err, exam.ErrNotActiveTask), errors.Is(err, exam.ErrUnknownTask):
		return http.StatusConflict, response.ErrNotActiveTask
	case errors.Is(err, exam.ErrTaskExpired):
		return http.StatusConflict, response.ErrTaskExpired
	case errors.Is(err, exam.ErrBackNotAllowed), errors.Is(err, exam.ErrNoPreviousTask):
		return http.StatusConflict, response.ErrBackNotAllowed
	case errors.Is(err, exam.ErrNotAlgorithmTask):
		return http.StatusBadRequest, response.ErrNotAlgorithmTask
	case errors.Is(err, exam.ErrNotLoaded), errors.Is(err, exam.ErrNotInitialized):
		return http.StatusServiceUnavailable, response.ErrDefinitionUnavailable
	case errors.Is(err, exam.ErrCodeCheck):
		return http.StatusBadGateway, response.ErrCodeCheckFailed
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
