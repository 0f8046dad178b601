package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exam-runner/internal/config"
	"github.com/stemsi/exam-runner/internal/model"
)

// DefaultProgressTTL bounds how long abandoned progress is kept in Redis.
const DefaultProgressTTL = 7 * 24 * time.Hour

const flagTrue = "true"

// ProgressStore keeps one SessionProgress per access token, one key per
// field, namespaced by token.
type ProgressStore struct {
	kv  KV
	ttl time.Duration
}

func NewProgressStore(kv KV, ttl time.Duration) *ProgressStore {
	return &ProgressStore{kv: kv, ttl: ttl}
}

// Load reads every progress field of accessToken. Unknown tokens yield an
// empty progress. Malformed values are reported as errors.
func (s *ProgressStore) Load(ctx context.Context, accessToken string) (*model.SessionProgress, error) {
	ck := config.CacheKey
	vals, err := s.kv.Get(ctx, ck.ProgressKeys(accessToken)...)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	p := model.NewSessionProgress()
	p.Started = vals[ck.ExamStartedKey(accessToken)] == flagTrue
	p.Finished = vals[ck.ExamFinishedKey(accessToken)] == flagTrue
	p.DraftAnswer = vals[ck.ExamCurrentAnswerKey(accessToken)]

	if v, ok := vals[ck.ExamAnswersKey(accessToken)]; ok {
		if err := json.Unmarshal([]byte(v), &p.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	if v, ok := vals[ck.ExamTimersKey(accessToken)]; ok {
		if err := json.Unmarshal([]byte(v), &p.Timers); err != nil {
			return nil, fmt.Errorf("decode timers: %w", err)
		}
	}
	if v, ok := vals[ck.ExamCheckResultsKey(accessToken)]; ok {
		if err := json.Unmarshal([]byte(v), &p.CodeCheckResults); err != nil {
			return nil, fmt.Errorf("decode check results: %w", err)
		}
	}
	if p.CurrentTaskIndex, err = intField(vals, ck.ExamCurrentIndexKey(accessToken)); err != nil {
		return nil, err
	}
	if p.ElapsedSeconds, err = intField(vals, ck.ExamElapsedKey(accessToken)); err != nil {
		return nil, err
	}

	// Decoded nulls leave nil containers behind.
	if p.Answers == nil {
		p.Answers = []model.Answer{}
	}
	if p.Timers == nil {
		p.Timers = map[string]int{}
	}
	if p.CodeCheckResults == nil {
		p.CodeCheckResults = map[string]model.CodeCheckResult{}
	}
	return p, nil
}

func (s *ProgressStore) SaveAnswers(ctx context.Context, accessToken string, answers []model.Answer) error {
	return s.setJSON(ctx, config.CacheKey.ExamAnswersKey(accessToken), answers)
}

func (s *ProgressStore) SaveTimers(ctx context.Context, accessToken string, timers map[string]int) error {
	return s.setJSON(ctx, config.CacheKey.ExamTimersKey(accessToken), timers)
}

func (s *ProgressStore) SaveCurrentIndex(ctx context.Context, accessToken string, index int) error {
	return s.kv.Set(ctx, config.CacheKey.ExamCurrentIndexKey(accessToken), strconv.Itoa(index), s.ttl)
}

func (s *ProgressStore) SaveDraft(ctx context.Context, accessToken string, draft string) error {
	return s.kv.Set(ctx, config.CacheKey.ExamCurrentAnswerKey(accessToken), draft, s.ttl)
}

func (s *ProgressStore) SaveCheckResults(ctx context.Context, accessToken string, results map[string]model.CodeCheckResult) error {
	return s.setJSON(ctx, config.CacheKey.ExamCheckResultsKey(accessToken), results)
}

func (s *ProgressStore) SaveElapsed(ctx context.Context, accessToken string, seconds int) error {
	return s.kv.Set(ctx, config.CacheKey.ExamElapsedKey(accessToken), strconv.Itoa(seconds), s.ttl)
}

func (s *ProgressStore) MarkFinished(ctx context.Context, accessToken string) error {
	return s.kv.Set(ctx, config.CacheKey.ExamFinishedKey(accessToken), flagTrue, s.ttl)
}

// MarkStarted records that the candidate went through the start flow.
func (s *ProgressStore) MarkStarted(ctx context.Context, accessToken string) error {
	return s.kv.Set(ctx, config.CacheKey.ExamStartedKey(accessToken), flagTrue, s.ttl)
}

// IsStarted reports whether MarkStarted was called for accessToken.
func (s *ProgressStore) IsStarted(ctx context.Context, accessToken string) (bool, error) {
	key := config.CacheKey.ExamStartedKey(accessToken)
	vals, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read started flag: %w", err)
	}
	return vals[key] == flagTrue, nil
}

// Reset deletes every progress key of accessToken and stamps a new reset
// marker, which tells a server holding the attempt live to drop it.
func (s *ProgressStore) Reset(ctx context.Context, accessToken string) error {
	if err := s.kv.Del(ctx, config.CacheKey.ProgressKeys(accessToken)...); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	if err := s.kv.Set(ctx, config.CacheKey.ExamResetKey(accessToken), uuid.NewString(), s.ttl); err != nil {
		return fmt.Errorf("stamp reset marker: %w", err)
	}
	return nil
}

// ResetMarker returns the marker of the last Reset, empty when never reset.
func (s *ProgressStore) ResetMarker(ctx context.Context, accessToken string) (string, error) {
	key := config.CacheKey.ExamResetKey(accessToken)
	vals, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read reset marker: %w", err)
	}
	return vals[key], nil
}

// ClearAttempt deletes what a running attempt wrote, leaving the started
// flag alone.
func (s *ProgressStore) ClearAttempt(ctx context.Context, accessToken string) error {
	if err := s.kv.Del(ctx, config.CacheKey.AttemptKeys(accessToken)...); err != nil {
		return fmt.Errorf("clear attempt: %w", err)
	}
	return nil
}

func (s *ProgressStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, string(data), s.ttl)
}

func intField(vals map[string]string, key string) (int, error) {
	v, ok := vals[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return n, nil
}
