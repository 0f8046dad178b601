package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ─── Candidate progress (one namespace per access token) ───────────

// ExamStartedKey marks that the candidate went through the start flow.
func (r *CacheKeyStruct) ExamStartedKey(token string) string {
	return fmt.Sprintf("exam_started_%s", token)
}

// ExamAnswersKey holds the saved answers list.
func (r *CacheKeyStruct) ExamAnswersKey(token string) string {
	return fmt.Sprintf("exam_answers_%s", token)
}

// ExamTimersKey holds remaining seconds per task key.
func (r *CacheKeyStruct) ExamTimersKey(token string) string {
	return fmt.Sprintf("exam_timers_%s", token)
}

// ExamCurrentIndexKey holds the active task index.
func (r *CacheKeyStruct) ExamCurrentIndexKey(token string) string {
	return fmt.Sprintf("exam_current_index_%s", token)
}

// ExamCurrentAnswerKey holds the draft of the active task.
func (r *CacheKeyStruct) ExamCurrentAnswerKey(token string) string {
	return fmt.Sprintf("exam_current_answer_%s", token)
}

// ExamCheckResultsKey holds the latest code check report per task.
func (r *CacheKeyStruct) ExamCheckResultsKey(token string) string {
	return fmt.Sprintf("exam_check_results_%s", token)
}

// ExamElapsedKey holds active seconds counted against a global limit.
func (r *CacheKeyStruct) ExamElapsedKey(token string) string {
	return fmt.Sprintf("exam_elapsed_%s", token)
}

// ExamFinishedKey marks that results were already submitted.
func (r *CacheKeyStruct) ExamFinishedKey(token string) string {
	return fmt.Sprintf("exam_finished_%s", token)
}

// ExamResetKey changes value on every operator reset. It outlives the
// progress keys so a live attempt can tell its progress was wiped.
func (r *CacheKeyStruct) ExamResetKey(token string) string {
	return fmt.Sprintf("exam_reset_%s", token)
}

// ProgressKeys returns every progress key of token, for reset.
func (r *CacheKeyStruct) ProgressKeys(token string) []string {
	return append([]string{r.ExamStartedKey(token)}, r.AttemptKeys(token)...)
}

// AttemptKeys returns the progress keys a running attempt writes: all of
// ProgressKeys except the started flag.
func (r *CacheKeyStruct) AttemptKeys(token string) []string {
	return []string{
		r.ExamAnswersKey(token),
		r.ExamTimersKey(token),
		r.ExamCurrentIndexKey(token),
		r.ExamCurrentAnswerKey(token),
		r.ExamCheckResultsKey(token),
		r.ExamElapsedKey(token),
		r.ExamFinishedKey(token),
	}
}

// ─── Server-side caches ────────────────────────────────────────────

// SessionDefinitionKey caches the full definition resolved for a token.
func (r *CacheKeyStruct) SessionDefinitionKey(token string) string {
	return fmt.Sprintf("session:%s:definition", token)
}

// AttemptOwnerKey holds the jti of the attempt token that owns the progress.
func (r *CacheKeyStruct) AttemptOwnerKey(token string) string {
	return fmt.Sprintf("session:%s:attempt", token)
}

var CacheKey = NewCacheKeyStruct()
