package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stemsi/exam-runner/internal/config"
	"github.com/stemsi/exam-runner/internal/exam"
	"github.com/stemsi/exam-runner/internal/model"
	"github.com/stemsi/exam-runner/internal/repository"
	"github.com/stemsi/exam-runner/internal/store"
	"github.com/stemsi/exam-runner/internal/violation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ─── fakes ──────────────────────────────────────────────────────────

type fakeDefs struct {
	mu    sync.Mutex
	defs  map[string]*model.ExamDefinition
	err   error
	calls int
}

func (f *fakeDefs) GetDefinitionByToken(_ context.Context, token string) (*model.ExamDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	def, ok := f.defs[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return def, nil
}

type fakeStarter struct {
	started map[string]bool
}

func (f *fakeStarter) MarkStarted(_ context.Context, token string) (bool, error) {
	already, ok := f.started[token]
	if !ok {
		return false, repository.ErrNotFound
	}
	f.started[token] = true
	return already, nil
}

type queued struct {
	queue string
	v     any
}

type fakeQueue struct {
	mu    sync.Mutex
	items []queued
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, queue string, v any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, queued{queue, v})
	return nil
}

func (q *fakeQueue) on(queue string) []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []any
	for _, it := range q.items {
		if it.queue == queue {
			out = append(out, it.v)
		}
	}
	return out
}

func definition() *model.ExamDefinition {
	return &model.ExamDefinition{
		Description: "Screening",
		Tests: []model.QuestionSet{{TestID: 1, Topic: "Go", Questions: []model.Question{
			{ID: 1, Text: "q1", CorrectAnswer: "a"},
			{ID: 2, Text: "q2", CorrectAnswer: "b"},
		}}},
	}
}

type fixture struct {
	kv       *store.MemoryKV
	progress *store.ProgressStore
	defs     *fakeDefs
	starter  *fakeStarter
	attempts *AttemptService
	sessions *SessionService
	queue    *fakeQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		kv:      store.NewMemoryKV(),
		defs:    &fakeDefs{defs: map[string]*model.ExamDefinition{"tok1": definition()}},
		starter: &fakeStarter{started: map[string]bool{"tok1": false}},
		queue:   &fakeQueue{},
	}
	f.progress = store.NewProgressStore(f.kv, 0)
	f.attempts = NewAttemptService(&config.Config{JWTSecret: "test-secret", AttemptTokenTTL: time.Hour}, f.kv)
	f.sessions = NewSessionService(f.defs, f.starter, f.kv, f.progress, f.attempts, zerolog.Nop())
	return f
}

func (f *fixture) examService(report bool) *ExamService {
	policy := config.DefaultPolicy()
	policy.MonitorInterval = 5 * time.Millisecond
	svc := NewExamService(f.sessions, f.progress, nil, NewQueueSubmitter(f.queue), f.queue, policy, report, zerolog.Nop())
	svc.resetPoll = 10 * time.Millisecond
	return svc
}

// ─── SessionService ────────────────────────────────────────────────

func TestSessionService_FetchCachesDefinition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def, err := f.sessions.FetchSessionByToken(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, "Screening", def.Description)

	again, err := f.sessions.FetchSessionByToken(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, def.Tests[0].Questions, again.Tests[0].Questions)
	assert.Equal(t, 1, f.defs.calls)
}

func TestSessionService_FetchErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.sessions.FetchSessionByToken(context.Background(), "unknown")
	var loadErr *exam.DefinitionLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, 404, loadErr.Status)

	f.defs.err = errors.New("connection refused")
	_, err = f.sessions.FetchSessionByToken(context.Background(), "other")
	require.ErrorAs(t, err, &loadErr)
	assert.Zero(t, loadErr.Status)
	assert.Contains(t, loadErr.Message, "connection refused")
}

func TestSessionService_PayloadHidesAnswers(t *testing.T) {
	f := newFixture(t)

	p, err := f.sessions.GetPayload(context.Background(), "tok1")
	require.NoError(t, err)

	require.Len(t, p.Tests, 1)
	assert.Equal(t, "q1", p.Tests[0].Questions[0].Text)
	assert.NotNil(t, p.AlgorithmTasks)
}

func TestSessionService_StartSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.sessions.StartSession(ctx, "tok1")
	require.NoError(t, err)
	assert.False(t, first.AlreadyStarted)
	assert.NotEmpty(t, first.AttemptToken)

	started, err := f.progress.IsStarted(ctx, "tok1")
	require.NoError(t, err)
	assert.True(t, started)

	second, err := f.sessions.StartSession(ctx, "tok1")
	require.NoError(t, err)
	assert.True(t, second.AlreadyStarted)
	assert.Equal(t, "Session already started", second.Message)

	// The newer start owns the attempt.
	oldClaims, err := f.attempts.Parse(first.AttemptToken)
	require.NoError(t, err)
	assert.ErrorIs(t, f.attempts.ValidateOwner(ctx, oldClaims), ErrAttemptSuperseded)
	newClaims, err := f.attempts.Parse(second.AttemptToken)
	require.NoError(t, err)
	assert.NoError(t, f.attempts.ValidateOwner(ctx, newClaims))

	_, err = f.sessions.StartSession(ctx, "nobody")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionService_Reset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start, err := f.sessions.StartSession(ctx, "tok1")
	require.NoError(t, err)
	require.NoError(t, f.progress.SaveCurrentIndex(ctx, "tok1", 1))

	require.NoError(t, f.sessions.Reset(ctx, "tok1"))

	p, err := f.sessions.Progress(ctx, "tok1")
	require.NoError(t, err)
	assert.False(t, p.Started)
	assert.Zero(t, p.CurrentTaskIndex)

	claims, err := f.attempts.Parse(start.AttemptToken)
	require.NoError(t, err)
	assert.ErrorIs(t, f.attempts.ValidateOwner(ctx, claims), ErrAttemptSuperseded)
}

// ─── AttemptService ────────────────────────────────────────────────

func TestAttemptService_Parse(t *testing.T) {
	f := newFixture(t)

	tok, exp, err := f.attempts.Issue(context.Background(), "tok1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := f.attempts.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "tok1", claims.AccessToken)

	_, err = f.attempts.Parse(tok + "x")
	assert.ErrorIs(t, err, ErrAttemptTokenInvalid)

	other := NewAttemptService(&config.Config{JWTSecret: "other", AttemptTokenTTL: time.Hour}, f.kv)
	_, err = other.Parse(tok)
	assert.ErrorIs(t, err, ErrAttemptTokenInvalid)
}

func TestAttemptService_Expired(t *testing.T) {
	f := newFixture(t)
	f.attempts.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	tok, _, err := f.attempts.Issue(context.Background(), "tok1")
	require.NoError(t, err)

	_, err = f.attempts.Parse(tok)
	assert.ErrorIs(t, err, ErrAttemptTokenInvalid)
}

// ─── ExamService ───────────────────────────────────────────────────

func TestExamService_AttachRequiresStart(t *testing.T) {
	f := newFixture(t)
	svc := f.examService(false)

	_, err := svc.Attach(context.Background(), "tok1")
	assert.ErrorIs(t, err, exam.ErrExamNotStarted)
	assert.Zero(t, svc.Live())
}

func TestExamService_AttachUnknownDefinition(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.progress.MarkStarted(context.Background(), "ghost"))
	svc := f.examService(false)

	_, err := svc.Attach(context.Background(), "ghost")
	var loadErr *exam.DefinitionLoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestExamService_AttachDetach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sessions.StartSession(ctx, "tok1")
	require.NoError(t, err)
	svc := f.examService(false)

	a, err := svc.Attach(ctx, "tok1")
	require.NoError(t, err)
	b, err := svc.Attach(ctx, "tok1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, svc.Live())
	assert.True(t, a.Monitor.Active())
	assert.Equal(t, exam.StateActive, a.Runner.Sequencer().State())

	svc.Detach(a)
	assert.Equal(t, 1, svc.Live())
	svc.Detach(b)
	assert.Zero(t, svc.Live())
	assert.False(t, a.Monitor.Active())
}

func TestExamService_FinishQueuesAnswersAndResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sessions.StartSession(ctx, "tok1")
	require.NoError(t, err)
	svc := f.examService(false)

	a, err := svc.Attach(ctx, "tok1")
	require.NoError(t, err)
	defer svc.Detach(a)

	a.Bus.Emit(&violation.Event{Kind: violation.SignalBlur})
	require.NoError(t, a.Runner.Submit("question_1", "A"))
	require.NoError(t, a.Runner.Submit("question_2", "c"))

	assert.Equal(t, exam.StateFinished, a.Runner.Sequencer().State())
	assert.Len(t, f.queue.on(config.WorkerKey.PersistAnswersQueue), 2)
	assert.Len(t, f.queue.on(config.WorkerKey.PersistViolationsQueue), 1)

	results := f.queue.on(config.WorkerKey.PersistResultsQueue)
	require.Len(t, results, 1)
	assert.Equal(t, model.ResultSubmission{
		AccessToken:       "tok1",
		TestResults:       "50",
		AlgorithmResults:  "0",
		ViolationDetected: "false",
	}, results[0])

	select {
	case v := <-a.Violations():
		assert.Equal(t, violation.ReasonBlur, v.Reason)
	default:
		t.Fatal("violation not relayed")
	}
	assert.False(t, a.Monitor.Active(), "monitor released on finish")
}

func TestExamService_ReportViolations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sessions.StartSession(ctx, "tok1")
	require.NoError(t, err)
	svc := f.examService(true)

	a, err := svc.Attach(ctx, "tok1")
	require.NoError(t, err)
	defer svc.Detach(a)

	a.Bus.Emit(&violation.Event{Kind: violation.SignalVisibility, Hidden: true})
	require.NoError(t, a.Runner.Submit("question_1", "a"))
	require.NoError(t, a.Runner.Submit("question_2", "b"))

	results := f.queue.on(config.WorkerKey.PersistResultsQueue)
	require.Len(t, results, 1)
	sub := results[0].(model.ResultSubmission)
	assert.Equal(t, "100", sub.TestResults)
	assert.Equal(t, "true", sub.ViolationDetected)
}

func TestExamService_SubmissionFailureKeepsFinished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sessions.StartSession(ctx, "tok1")
	require.NoError(t, err)
	svc := f.examService(false)

	a, err := svc.Attach(ctx, "tok1")
	require.NoError(t, err)
	defer svc.Detach(a)

	require.NoError(t, a.Runner.Submit("question_1", "a"))
	f.queue.err = errors.New("redis down")
	require.NoError(t, a.Runner.Submit("question_2", "b"))

	assert.Equal(t, exam.StateFinished, a.Runner.Sequencer().State())
	p, err := f.progress.Load(ctx, "tok1")
	require.NoError(t, err)
	assert.True(t, p.Finished)
}

func TestExamService_ReattachAfterFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sessions.StartSession(ctx, "tok1")
	require.NoError(t, err)
	svc := f.examService(false)

	a, err := svc.Attach(ctx, "tok1")
	require.NoError(t, err)
	require.NoError(t, a.Runner.Submit("question_1", "a"))
	require.NoError(t, a.Runner.Submit("question_2", "b"))
	svc.Detach(a)

	again, err := svc.Attach(ctx, "tok1")
	require.NoError(t, err)
	defer svc.Detach(again)

	assert.Equal(t, exam.StateFinished, again.Runner.Sequencer().State())
	assert.False(t, again.Monitor.Active())
	assert.Len(t, f.queue.on(config.WorkerKey.PersistResultsQueue), 1, "results posted once")
}

func TestExamService_ConcurrentReattach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sessions.StartSession(ctx, "tok1")
	require.NoError(t, err)
	svc := f.examService(false)

	// A page reload: the old socket detaches while the new one attaches.
	for i := 0; i < 200; i++ {
		a, err := svc.Attach(ctx, "tok1")
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			b    *Attempt
			berr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			svc.Detach(a)
		}()
		go func() {
			defer wg.Done()
			b, berr = svc.Attach(ctx, "tok1")
		}()
		wg.Wait()
		require.NoError(t, berr)

		cur, ok := svc.live.Load("tok1")
		require.True(t, ok, "iteration %d", i)
		require.Same(t, b, cur, "connection holds the registered attempt (iteration %d)", i)
		if a != b {
			select {
			case <-a.Closed():
			default:
				t.Fatalf("iteration %d: previous attempt still running beside its successor", i)
			}
		}

		svc.Detach(b)
		require.Zero(t, svc.Live(), "iteration %d", i)
	}
}

func TestExamService_ResetDropsConnectedAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sessions.StartSession(ctx, "tok1")
	require.NoError(t, err)
	svc := f.examService(false)

	a, err := svc.Attach(ctx, "tok1")
	require.NoError(t, err)
	defer svc.Detach(a)
	require.NoError(t, a.Runner.Submit("question_1", "a"))

	require.NoError(t, f.sessions.Reset(ctx, "tok1"))

	select {
	case <-a.Closed():
	case <-time.After(time.Second):
		t.Fatal("live attempt kept running after reset")
	}
	assert.Zero(t, svc.Live())
	assert.ErrorIs(t, a.Runner.Submit("question_2", "b"), exam.ErrAttemptClosed)

	a.Runner.Sequencer().Tick()
	p, err := f.progress.Load(ctx, "tok1")
	require.NoError(t, err)
	assert.Empty(t, p.Answers)
	assert.Empty(t, p.Timers)
	assert.Zero(t, p.CurrentTaskIndex)
}

func TestExamService_ReattachRightAfterReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sessions.StartSession(ctx, "tok1")
	require.NoError(t, err)
	svc := f.examService(false)
	svc.resetPoll = time.Hour

	a, err := svc.Attach(ctx, "tok1")
	require.NoError(t, err)
	defer svc.Detach(a)
	require.NoError(t, a.Runner.Submit("question_1", "a"))

	require.NoError(t, f.sessions.Reset(ctx, "tok1"))
	// The old countdown writes once more before anyone notices.
	a.Runner.Sequencer().Tick()

	_, err = f.sessions.StartSession(ctx, "tok1")
	require.NoError(t, err)
	b, err := svc.Attach(ctx, "tok1")
	require.NoError(t, err)
	defer svc.Detach(b)

	require.NotSame(t, a, b)
	select {
	case <-a.Closed():
	default:
		t.Fatal("stale attempt not retired")
	}

	initial := config.DefaultPolicy().Exam.InitialSeconds(model.TaskKindQuestion)
	snap := b.Runner.Sequencer().Snapshot()
	assert.Zero(t, snap.CurrentTaskIndex)
	assert.Empty(t, snap.Answers)
	assert.GreaterOrEqual(t, snap.Timers["question_1"], initial-1)
	assert.Equal(t, initial, snap.Timers["question_2"])
	assert.Equal(t, 1, svc.Live())
}

func TestQueueSubmitter_RequiresToken(t *testing.T) {
	err := NewQueueSubmitter(&fakeQueue{}).SendResults(context.Background(), model.ResultSubmission{})
	assert.Error(t, err)
}
