package exam

import (
	"errors"
	"fmt"
)

var (
	ErrMissingToken     = errors.New("access token is required")
	ErrExamNotStarted   = errors.New("exam has not been started for this token")
	ErrNotInitialized   = errors.New("sequencer is not initialized")
	ErrNotLoaded        = errors.New("exam definition is not loaded")
	ErrExamFinished     = errors.New("exam is already finished")
	ErrEmptyAnswer      = errors.New("answer is empty")
	ErrNotActiveTask    = errors.New("task is not the active task")
	ErrUnknownTask      = errors.New("task does not exist in this exam")
	ErrNotAlgorithmTask = errors.New("code can only be checked for algorithmic tasks")
	ErrTaskExpired      = errors.New("time for this task is over")
	ErrBackNotAllowed   = errors.New("moving back is not allowed here")
	ErrNoPreviousTask   = errors.New("already at the first task")
	ErrAttemptClosed    = errors.New("attempt was closed after a reset")

	ErrCodeCheck        = errors.New("code check failed")
	ErrResultSubmission = errors.New("result submission failed")
)

// DefinitionLoadError is returned when the session definition cannot be
// fetched. Status is the upstream HTTP status, 0 for transport failures.
type DefinitionLoadError struct {
	Status  int
	Message string
}

func (e *DefinitionLoadError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("load exam definition: %s", e.Message)
	}
	return fmt.Sprintf("load exam definition: status %d: %s", e.Status, e.Message)
}
