package exam

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-runner/internal/model"
)

// TickInterval is the countdown resolution.
const TickInterval = time.Second

// Runner drives a Sequencer: it owns the single countdown ticker of the
// attempt, performs code checks outside the sequencer lock and publishes
// snapshots after every change.
type Runner struct {
	seq      *Sequencer
	checker  CodeChecker
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	restart chan struct{}

	updates chan Snapshot
}

// NewRunner wraps seq. checker may be nil when no algorithmic tasks exist.
func NewRunner(seq *Sequencer, checker CodeChecker, log zerolog.Logger) *Runner {
	return &Runner{
		seq:      seq,
		checker:  checker,
		interval: TickInterval,
		log:      log.With().Str("component", "exam_runner").Logger(),
		updates:  make(chan Snapshot, 1),
	}
}

// Sequencer returns the driven state machine.
func (r *Runner) Sequencer() *Sequencer { return r.seq }

// Updates delivers the latest snapshot after each change. Stale snapshots
// are dropped when the reader falls behind.
func (r *Runner) Updates() <-chan Snapshot { return r.updates }

// Start launches the countdown. Calling it while running is a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.restart = make(chan struct{}, 1)
	go r.loop(r.stop, r.done, r.restart)
}

// Stop halts the countdown and waits for the ticker goroutine to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done, r.restart = nil, nil, nil
	r.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (r *Runner) loop(stop <-chan struct{}, done chan<- struct{}, restart <-chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-restart:
			// A new active task starts a full second.
			ticker.Reset(r.interval)
		case <-ticker.C:
			r.seq.Tick()
			r.publish()
			if r.seq.State() == StateFinished {
				r.log.Debug().Msg("Countdown stopped, exam finished")
				return
			}
		}
	}
}

// SetDraft forwards a draft change.
func (r *Runner) SetDraft(text string) error {
	if err := r.seq.SetDraft(text); err != nil {
		return err
	}
	r.changed(false)
	return nil
}

// Submit submits the active task.
func (r *Runner) Submit(taskKey, text string) error {
	if err := r.seq.SubmitAnswer(taskKey, text); err != nil {
		return err
	}
	r.changed(true)
	return nil
}

// Back moves to the previous question.
func (r *Runner) Back() error {
	if err := r.seq.Back(); err != nil {
		return err
	}
	r.changed(true)
	return nil
}

// CheckCode runs source for the algorithmic task taskKey and records the
// report. A failed check leaves the previous report in place. Cancelling ctx
// does not abort a check in flight: the checker's own timeout bounds it and
// a late report is still recorded by task id.
func (r *Runner) CheckCode(ctx context.Context, taskKey, language, source string) (*model.CodeCheckResult, error) {
	task, err := r.seq.PrepareCodeCheck(taskKey)
	if err != nil {
		return nil, err
	}
	if r.checker == nil {
		return nil, fmt.Errorf("%w: no code checker configured", ErrCodeCheck)
	}
	alg, _ := task.Algorithm()

	result, err := r.checker.Check(context.WithoutCancel(ctx), model.CodeCheckRequest{
		TaskID:   alg.TaskID,
		Language: model.ParseLanguage(language),
		Source:   source,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodeCheck, err)
	}

	if err := r.seq.RecordCodeCheck(alg.TaskID, *result); err != nil {
		r.log.Warn().Err(err).Str("task_id", alg.TaskID).Msg("Code check result not recorded")
		return result, nil
	}
	r.changed(false)
	return result, nil
}

// changed publishes after an action. An action that finished the attempt
// also ends the countdown.
func (r *Runner) changed(taskMoved bool) {
	if taskMoved {
		r.mu.Lock()
		restart := r.restart
		r.mu.Unlock()
		if restart != nil {
			select {
			case restart <- struct{}{}:
			default:
			}
		}
	}
	r.publish()
	if r.seq.State() == StateFinished {
		r.Stop()
	}
}

func (r *Runner) publish() {
	snap := r.seq.Snapshot()
	select {
	case r.updates <- snap:
		return
	default:
	}
	select {
	case <-r.updates:
	default:
	}
	select {
	case r.updates <- snap:
	default:
	}
}
