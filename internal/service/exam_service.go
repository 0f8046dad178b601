package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exam-runner/internal/config"
	"github.com/stemsi/exam-runner/internal/exam"
	"github.com/stemsi/exam-runner/internal/model"
	"github.com/stemsi/exam-runner/internal/store"
	"github.com/stemsi/exam-runner/internal/violation"
)

const (
	// resultTimeout bounds a results submission after finish.
	resultTimeout = 10 * time.Second
	// resetPollInterval is how often a live attempt looks for an operator
	// reset of its progress.
	resetPollInterval = 2 * time.Second
)

// Enqueuer pushes payloads onto a named worker queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, v any) error
}

// Attempt is the live state of one connected candidate: the runner driving
// the sequencer and the violation monitor fed through its signal bus.
type Attempt struct {
	Token   string
	Runner  *exam.Runner
	Monitor *violation.Monitor
	Bus     *violation.Bus

	violations chan violation.Violation
	marker     string

	// ready, conns and retired change only inside the registry entry of
	// Token. An entry that is not ready is a placeholder held while the
	// attempt is built.
	ready   bool
	conns   int
	retired bool

	settled   chan struct{}
	stopWatch chan struct{}
	watchDone chan struct{}
	closed    chan struct{}
}

func newAttempt(token string) *Attempt {
	return &Attempt{
		Token:      token,
		violations: make(chan violation.Violation, 16),
		settled:    make(chan struct{}),
		stopWatch:  make(chan struct{}),
		watchDone:  make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

// Violations delivers detected signals for relay to the candidate. Signals
// are dropped when nobody reads them.
func (a *Attempt) Violations() <-chan violation.Violation { return a.violations }

// Closed is closed once the attempt has left the registry and stopped.
// Connections still holding it must end.
func (a *Attempt) Closed() <-chan struct{} { return a.closed }

// ExamService owns the live attempts of this process, one per access token.
type ExamService struct {
	sessions  exam.SessionLoader
	progress  *store.ProgressStore
	checker   exam.CodeChecker
	submitter exam.ResultsSubmitter
	queue     Enqueuer
	policy    config.Policy
	report    bool
	log       zerolog.Logger

	resetPoll time.Duration
	live      *xsync.MapOf[string, *Attempt]
}

// NewExamService creates a new ExamService. When reportViolations is false
// results always carry violation_detected "false".
func NewExamService(
	sessions exam.SessionLoader,
	progress *store.ProgressStore,
	checker exam.CodeChecker,
	submitter exam.ResultsSubmitter,
	queue Enqueuer,
	policy config.Policy,
	reportViolations bool,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		sessions:  sessions,
		progress:  progress,
		checker:   checker,
		submitter: submitter,
		queue:     queue,
		policy:    policy,
		report:    reportViolations,
		log:       log.With().Str("component", "exam_service").Logger(),
		resetPoll: resetPollInterval,
		live:      xsync.NewMapOf[string, *Attempt](),
	}
}

// Attach returns the live attempt of accessToken with one more connection
// counted, building it on first use. The countdown and the monitor run while
// at least one connection is attached. At most one attempt per token exists
// at a time: a builder holds the registry slot until the attempt is ready,
// and a retired attempt keeps it until it has stopped writing. An attempt
// whose progress was reset since it was built is retired and rebuilt.
func (s *ExamService) Attach(ctx context.Context, accessToken string) (*Attempt, error) {
	for {
		var (
			a       *Attempt
			wait    <-chan struct{}
			builder bool
		)
		s.live.Compute(accessToken, func(cur *Attempt, loaded bool) (*Attempt, bool) {
			switch {
			case !loaded:
				a, builder = newAttempt(accessToken), true
				return a, false
			case cur.retired:
				wait = cur.closed
			case !cur.ready:
				wait = cur.settled
			default:
				a = cur
				a.conns++
			}
			return cur, false
		})

		switch {
		case builder:
			return s.complete(ctx, a)
		case wait != nil:
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		default:
			marker, err := s.progress.ResetMarker(ctx, accessToken)
			if err != nil {
				s.Detach(a)
				return nil, err
			}
			if marker == a.marker {
				return a, nil
			}
			s.retire(a, true, false)
		}
	}
}

// complete builds the placeholder a. On success a goes live with this
// connection counted; on failure the slot is released.
func (s *ExamService) complete(ctx context.Context, a *Attempt) (*Attempt, error) {
	err := s.build(ctx, a)
	s.live.Compute(a.Token, func(cur *Attempt, loaded bool) (*Attempt, bool) {
		if err != nil {
			return cur, !loaded || cur == a
		}
		a.ready = true
		a.conns = 1
		s.activate(a)
		return cur, false
	})
	close(a.settled)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Detach releases one connection of a. The last one stops the countdown and
// the monitor and drops the attempt; progress stays in the store. Detaching
// an attempt that was already retired does nothing.
func (s *ExamService) Detach(a *Attempt) {
	last := false
	s.live.Compute(a.Token, func(cur *Attempt, loaded bool) (*Attempt, bool) {
		if !loaded || cur != a || a.retired {
			return cur, !loaded
		}
		a.conns--
		if a.conns <= 0 {
			a.retired = true
			last = true
		}
		return cur, false
	})
	if last {
		s.teardown(a, false, false)
		s.log.Debug().Str("token", a.Token).Msg("Attempt detached")
	}
}

// Live returns the number of attached attempts.
func (s *ExamService) Live() int { return s.live.Size() }

// Shutdown stops every live attempt.
func (s *ExamService) Shutdown() {
	s.live.Range(func(_ string, a *Attempt) bool {
		s.retire(a, false, false)
		return true
	})
}

// activate starts the countdown, the monitor and the reset watch. It runs
// inside the registry entry, so a concurrent retire always sees it done.
func (s *ExamService) activate(a *Attempt) {
	if a.Runner.Sequencer().State() == exam.StateActive {
		a.Monitor.Activate()
		a.Runner.Start()
	}
	go s.watchReset(a)
}

// watchReset retires a when its progress is reset by an operator.
func (s *ExamService) watchReset(a *Attempt) {
	defer close(a.watchDone)

	ticker := time.NewTicker(s.resetPoll)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopWatch:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.resetPoll)
		marker, err := s.progress.ResetMarker(ctx, a.Token)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Str("token", a.Token).Msg("Reset check failed")
			continue
		}
		if marker != a.marker {
			s.retire(a, true, true)
			return
		}
	}
}

// retire takes a out of service unless someone else already did.
func (s *ExamService) retire(a *Attempt, reset, fromWatch bool) {
	mine := false
	s.live.Compute(a.Token, func(cur *Attempt, loaded bool) (*Attempt, bool) {
		if loaded && cur == a && a.ready && !a.retired {
			a.retired = true
			mine = true
		}
		return cur, !loaded
	})
	if mine {
		s.teardown(a, reset, fromWatch)
	}
}

// teardown stops a retired attempt, removes it from the registry and closes
// it. After a reset the sequencer is closed and whatever it wrote since the
// reset is wiped.
func (s *ExamService) teardown(a *Attempt, reset, fromWatch bool) {
	close(a.stopWatch)
	if !fromWatch {
		<-a.watchDone
	}
	a.Runner.Stop()
	a.Monitor.Deactivate()

	ctx, cancel := context.WithTimeout(context.Background(), resultTimeout)
	defer cancel()
	if !reset {
		marker, err := s.progress.ResetMarker(ctx, a.Token)
		reset = err == nil && marker != a.marker
	}
	if reset {
		a.Runner.Sequencer().Close()
		if err := s.progress.ClearAttempt(ctx, a.Token); err != nil {
			s.log.Error().Err(err).Str("token", a.Token).Msg("Failed to clear reset attempt")
		}
		s.log.Info().Str("token", a.Token).Msg("Live attempt dropped after reset")
	}

	s.live.Compute(a.Token, func(cur *Attempt, loaded bool) (*Attempt, bool) {
		close(a.closed)
		return cur, !loaded || cur == a
	})
}

// build loads progress and the definition into a. The reset marker is read
// first, so a reset racing the load is caught by the watch.
func (s *ExamService) build(ctx context.Context, a *Attempt) error {
	accessToken := a.Token
	started, err := s.progress.IsStarted(ctx, accessToken)
	if err != nil {
		return err
	}
	if !started {
		return exam.ErrExamNotStarted
	}
	if a.marker, err = s.progress.ResetMarker(ctx, accessToken); err != nil {
		return err
	}

	log := s.log.With().Str("token", accessToken).Logger()

	seq := exam.NewSequencer(s.progress,
		exam.WithPolicy(s.policy.Exam),
		exam.WithLogger(log),
		exam.OnAnswerSaved(s.answerSaved),
		exam.OnFinished(func(f exam.Finish) { s.finished(a, f) }),
	)

	var def *model.ExamDefinition
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return seq.Initialize(gctx, accessToken)
	})
	g.Go(func() error {
		var err error
		def, err = s.sessions.FetchSessionByToken(gctx, accessToken)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	a.Bus = violation.NewBus()
	a.Monitor = violation.NewMonitor(a.Bus,
		violation.WithPollInterval(s.policy.MonitorInterval),
		violation.WithThreshold(s.policy.MonitorThreshold),
		violation.WithLogger(log),
		violation.OnViolation(func(v violation.Violation) { s.violated(a, v) }),
	)
	a.Runner = exam.NewRunner(seq, s.checker, log)

	if err := seq.OnDefinitionLoaded(def); err != nil {
		return err
	}

	log.Info().
		Int("tasks", len(seq.Tasks())).
		Str("state", string(seq.State())).
		Msg("Attempt loaded")
	return nil
}

func (s *ExamService) answerSaved(token string, ans model.Answer) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rec := model.AnswerRecord{AccessToken: token, Answer: ans}
	if err := s.queue.Enqueue(ctx, config.WorkerKey.PersistAnswersQueue, rec); err != nil {
		s.log.Error().Err(err).Str("token", token).Str("task_key", ans.TaskKey).Msg("Failed to queue answer")
	}
}

func (s *ExamService) violated(a *Attempt, v violation.Violation) {
	select {
	case a.violations <- v:
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ev := model.ViolationEvent{
		AccessToken: a.Token,
		Signal:      v.Reason,
		Detail:      v.Detail,
		Timestamp:   v.At.UnixMilli(),
	}
	if err := s.queue.Enqueue(ctx, config.WorkerKey.PersistViolationsQueue, ev); err != nil {
		s.log.Error().Err(err).Str("token", a.Token).Msg("Failed to queue violation")
	}
}

// finished aggregates and posts the results. A failed post is logged; the
// attempt stays finished.
func (s *ExamService) finished(a *Attempt, f exam.Finish) {
	var reader exam.ViolationReader
	if s.report && a.Monitor != nil {
		reader = a.Monitor
	}
	res := exam.ComputeResults(f.Definition, f.Answers, f.CodeCheckResults, reader)

	if a.Monitor != nil {
		a.Monitor.Deactivate()
	}

	ctx, cancel := context.WithTimeout(context.Background(), resultTimeout)
	defer cancel()

	err := s.submitter.SendResults(ctx, model.ResultSubmission{
		AccessToken:       f.AccessToken,
		TestResults:       res.TestPercentage,
		AlgorithmResults:  res.AlgorithmPercentage,
		ViolationDetected: res.ViolationDetected,
	})
	if err != nil {
		s.log.Error().Err(fmt.Errorf("%w: %w", exam.ErrResultSubmission, err)).
			Str("token", f.AccessToken).
			Msg("Results not submitted")
		return
	}

	s.log.Info().
		Str("token", f.AccessToken).
		Str("test", res.TestPercentage).
		Str("algorithm", res.AlgorithmPercentage).
		Str("violation", res.ViolationDetected).
		Msg("Exam finished")
}

// ─── results ────────────────────────────────────────────────────────

// QueueSubmitter hands results to the results worker.
type QueueSubmitter struct {
	queue Enqueuer
}

func NewQueueSubmitter(queue Enqueuer) *QueueSubmitter {
	return &QueueSubmitter{queue: queue}
}

func (q *QueueSubmitter) SendResults(ctx context.Context, sub model.ResultSubmission) error {
	if sub.AccessToken == "" {
		return errors.New("results without access token")
	}
	return q.queue.Enqueue(ctx, config.WorkerKey.PersistResultsQueue, sub)
}
