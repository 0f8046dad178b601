package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stemsi/exam-runner/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// chanSource is an in-memory Source.
type chanSource struct {
	items chan string

	mu      sync.Mutex
	pushed  []string
	pushErr error
}

func newChanSource(items ...string) *chanSource {
	s := &chanSource{items: make(chan string, 128)}
	for _, it := range items {
		s.items <- it
	}
	return s
}

func (s *chanSource) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case it := <-s.items:
		return it, nil
	case <-t.C:
		return "", errEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *chanSource) Push(_ context.Context, items ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.pushed = append(s.pushed, items...)
	return nil
}

func (s *chanSource) requeued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pushed...)
}

type sink struct {
	mu        sync.Mutex
	bulkErr   error
	singleErr func(model.ResultSubmission) error
	bulk      [][]model.ResultSubmission
	single    []model.ResultSubmission
}

func (s *sink) bulkWrite(_ context.Context, batch []model.ResultSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulk = append(s.bulk, append([]model.ResultSubmission(nil), batch...))
	return s.bulkErr
}

func (s *sink) singleWrite(_ context.Context, r model.ResultSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.singleErr != nil {
		if err := s.singleErr(r); err != nil {
			return err
		}
	}
	s.single = append(s.single, r)
	return nil
}

func (s *sink) bulkCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bulk)
}

func encode(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func newTestLoop(src Source, s *sink) *batchLoop[model.ResultSubmission] {
	l := newBatchLoop(src, zerolog.Nop(), s.bulkWrite, s.singleWrite)
	l.pollTimeout = 5 * time.Millisecond
	l.timeout = 20 * time.Millisecond
	l.errorBackoff = time.Millisecond
	return l
}

func runLoop(l *batchLoop[model.ResultSubmission]) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestBatchLoop_FlushesOnSize(t *testing.T) {
	src := newChanSource()
	for i := 0; i < 3; i++ {
		src.items <- encode(t, model.ResultSubmission{AccessToken: "tok", TestResults: "50"})
	}
	s := &sink{}
	l := newTestLoop(src, s)
	l.size = 3
	l.timeout = time.Hour

	stop := runLoop(l)
	require.Eventually(t, func() bool { return s.bulkCalls() == 1 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Len(t, s.bulk[0], 3)
}

func TestBatchLoop_FlushesOnTimeout(t *testing.T) {
	src := newChanSource(encode(t, model.ResultSubmission{AccessToken: "tok"}))
	s := &sink{}

	stop := runLoop(newTestLoop(src, s))
	require.Eventually(t, func() bool { return s.bulkCalls() == 1 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, "tok", s.bulk[0][0].AccessToken)
}

func TestBatchLoop_DiscardsMalformed(t *testing.T) {
	src := newChanSource("{broken", encode(t, model.ResultSubmission{AccessToken: "ok"}))
	s := &sink{}

	stop := runLoop(newTestLoop(src, s))
	require.Eventually(t, func() bool { return s.bulkCalls() == 1 }, time.Second, 5*time.Millisecond)
	stop()

	require.Len(t, s.bulk[0], 1)
	assert.Equal(t, "ok", s.bulk[0][0].AccessToken)
	assert.Empty(t, src.requeued())
}

func TestBatchLoop_FlushesBufferOnShutdown(t *testing.T) {
	src := newChanSource(encode(t, model.ResultSubmission{AccessToken: "late"}))
	s := &sink{}
	l := newTestLoop(src, s)
	l.timeout = time.Hour

	stop := runLoop(l)
	require.Eventually(t, func() bool { return len(src.items) == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	stop()

	require.Equal(t, 1, s.bulkCalls())
	assert.Equal(t, "late", s.bulk[0][0].AccessToken)
}

func TestFlushSafe_FallbackAndRequeue(t *testing.T) {
	src := newChanSource()
	s := &sink{
		bulkErr: errors.New("deadlock detected"),
		singleErr: func(r model.ResultSubmission) error {
			switch r.AccessToken {
			case "down":
				return errors.New("connection reset")
			case "ghost":
				return errDrop
			}
			return nil
		},
	}
	l := newTestLoop(src, s)

	l.flushSafe(context.Background(), []model.ResultSubmission{
		{AccessToken: "fine"}, {AccessToken: "down"}, {AccessToken: "ghost"},
	})

	require.Len(t, s.single, 1)
	assert.Equal(t, "fine", s.single[0].AccessToken)

	requeued := src.requeued()
	require.Len(t, requeued, 1)
	var got model.ResultSubmission
	require.NoError(t, json.Unmarshal([]byte(requeued[0]), &got))
	assert.Equal(t, "down", got.AccessToken)
}

func TestFlushSafe_RequeueFailureIsLogged(t *testing.T) {
	src := newChanSource()
	src.pushErr = errors.New("redis gone")
	s := &sink{
		bulkErr:   errors.New("db down"),
		singleErr: func(model.ResultSubmission) error { return errors.New("db down") },
	}

	newTestLoop(src, s).flushSafe(context.Background(), []model.ResultSubmission{{AccessToken: "x"}})
	assert.Empty(t, src.requeued())
}

func TestLatestAnswers(t *testing.T) {
	batch := []model.AnswerRecord{
		{AccessToken: "a", Answer: model.Answer{TaskKey: "question_1", Text: "b", SubmittedAt: 2}},
		{AccessToken: "b", Answer: model.Answer{TaskKey: "question_1", Text: "c", SubmittedAt: 1}},
		{AccessToken: "a", Answer: model.Answer{TaskKey: "question_1", Text: "old", SubmittedAt: 1}},
		{AccessToken: "a", Answer: model.Answer{TaskKey: "question_1", Text: "d", SubmittedAt: 3}},
	}

	got := latestAnswers(batch)

	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].Text)
	assert.Equal(t, "c", got[1].Text)
}

func TestLatestResults(t *testing.T) {
	got := latestResults([]model.ResultSubmission{
		{AccessToken: "a", TestResults: "10"},
		{AccessToken: "b", TestResults: "20"},
		{AccessToken: "a", TestResults: "30"},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "30", got[0].TestResults)
	assert.Equal(t, "20", got[1].TestResults)
}
