package exam

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-runner/internal/model"
)

// State is the lifecycle state of one attempt.
type State string

const (
	StateLoading  State = "LOADING"
	StateActive   State = "ACTIVE"
	StateFinished State = "FINISHED"
)

const defaultWriteTimeout = 3 * time.Second

// Finish is handed to the finish hook exactly once per attempt.
type Finish struct {
	AccessToken      string
	Definition       *model.ExamDefinition
	Answers          []model.Answer
	CodeCheckResults map[string]model.CodeCheckResult
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithPolicy overrides the default timing policy.
func WithPolicy(p Policy) Option {
	return func(s *Sequencer) { s.policy = p }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Sequencer) { s.log = log }
}

// WithClock replaces time.Now for answer timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// OnAnswerSaved registers a hook called after each saved answer.
func OnAnswerSaved(fn func(token string, a model.Answer)) Option {
	return func(s *Sequencer) { s.onAnswer = fn }
}

// OnFinished registers the hook called once when the attempt finishes.
func OnFinished(fn func(Finish)) Option {
	return func(s *Sequencer) { s.onFinish = fn }
}

// Sequencer is the task-sequencing and timer state machine of one attempt.
// All methods are safe for concurrent use; mutations are serialised and each
// one is written through to the ProgressStore. Hooks run after the lock is
// released.
type Sequencer struct {
	mu sync.Mutex

	store        ProgressStore
	policy       Policy
	log          zerolog.Logger
	now          func() time.Time
	writeTimeout time.Duration
	onAnswer     func(string, model.Answer)
	onFinish     func(Finish)

	token    string
	state    State
	def      *model.ExamDefinition
	tasks    []FlatTask
	progress *model.SessionProgress

	finishDispatched bool
	closed           bool
	effects          []func()
}

// NewSequencer creates a sequencer backed by store.
func NewSequencer(store ProgressStore, opts ...Option) *Sequencer {
	s := &Sequencer{
		store:        store,
		policy:       DefaultPolicy(),
		log:          zerolog.Nop(),
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
		state:        StateLoading,
		progress:     model.NewSessionProgress(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize restores persisted progress for accessToken. Unknown tokens
// start from empty progress.
func (s *Sequencer) Initialize(ctx context.Context, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return ErrMissingToken
	}

	progress, err := s.store.Load(ctx, accessToken)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = accessToken
	s.progress = progress
	if s.progress.CurrentTaskIndex < 0 {
		s.progress.CurrentTaskIndex = 0
	}
	if progress.Finished {
		// Results were posted by the attempt that finished.
		s.state = StateFinished
		s.finishDispatched = true
	}
	return nil
}

// OnDefinitionLoaded builds the task order and initialises timers for tasks
// seen for the first time. Calling it again with the same definition changes
// nothing.
func (s *Sequencer) OnDefinitionLoaded(def *model.ExamDefinition) error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		return ErrNotInitialized
	}

	s.def = def
	s.tasks = Flatten(def)

	added := false
	for _, t := range s.tasks {
		if _, ok := s.progress.Timers[t.Key]; !ok {
			s.progress.Timers[t.Key] = s.policy.InitialSeconds(t.Kind())
			added = true
		}
	}
	if added {
		s.saveTimers()
	}

	if s.state == StateLoading {
		s.state = StateActive
	}
	s.clampIndex()
	s.react()
	return nil
}

// Tick advances the countdown of the active task by one second. It does
// nothing unless the exam is active and the active task has time left.
func (s *Sequencer) Tick() {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateActive || len(s.tasks) == 0 {
		return
	}

	if s.policy.GlobalLimit > 0 {
		s.progress.ElapsedSeconds++
		s.save(func(ctx context.Context) error {
			return s.store.SaveElapsed(ctx, s.token, s.progress.ElapsedSeconds)
		})
		if time.Duration(s.progress.ElapsedSeconds)*time.Second >= s.policy.GlobalLimit {
			s.finish()
			return
		}
	}

	key := s.tasks[s.progress.CurrentTaskIndex].Key
	if remaining := s.progress.Timers[key]; remaining > 0 {
		s.progress.Timers[key] = remaining - 1
		s.saveTimers()
	}

	s.react()
}

// SetDraft replaces the in-progress answer of the active task.
func (s *Sequencer) SetDraft(text string) error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireActive(); err != nil {
		return err
	}
	if s.activeRemaining() == 0 {
		return ErrTaskExpired
	}

	s.progress.DraftAnswer = text
	s.saveDraft()
	s.react()
	return nil
}

// SubmitAnswer saves text as the answer of the active task identified by
// taskKey and moves to the next task, or finishes the exam on the last one.
func (s *Sequencer) SubmitAnswer(taskKey, text string) error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireActive(); err != nil {
		return err
	}
	active := s.tasks[s.progress.CurrentTaskIndex]
	if active.Key != taskKey {
		return ErrNotActiveTask
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyAnswer
	}
	if s.activeRemaining() == 0 {
		return ErrTaskExpired
	}

	s.submit(active, text)
	return nil
}

// Back moves to the previous question task and restores its saved answer as
// the draft. The revisited task keeps its own timer and must have time left.
func (s *Sequencer) Back() error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireActive(); err != nil {
		return err
	}
	if !s.policy.AllowBackNavigation {
		return ErrBackNotAllowed
	}
	if s.progress.CurrentTaskIndex == 0 {
		return ErrNoPreviousTask
	}
	prev := s.tasks[s.progress.CurrentTaskIndex-1]
	if prev.Kind() != model.TaskKindQuestion {
		return ErrBackNotAllowed
	}
	// Forward moves only happen through submission, so an expired task
	// would trap the candidate.
	if s.progress.Timers[prev.Key] == 0 {
		return ErrTaskExpired
	}

	s.moveTo(prev.Index)
	return nil
}

// PrepareCodeCheck validates that code may be checked for the task with
// taskKey right now and returns it. The check itself runs outside the
// sequencer; any algorithmic task with time left qualifies, not only the
// active one.
func (s *Sequencer) PrepareCodeCheck(taskKey string) (FlatTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return FlatTask{}, ErrAttemptClosed
	}
	if s.state == StateFinished {
		return FlatTask{}, ErrExamFinished
	}
	if s.state != StateActive {
		return FlatTask{}, ErrNotLoaded
	}

	for _, t := range s.tasks {
		if t.Key != taskKey {
			continue
		}
		if t.Kind() != model.TaskKindAlgorithm {
			return FlatTask{}, ErrNotAlgorithmTask
		}
		if s.progress.Timers[t.Key] == 0 {
			return FlatTask{}, ErrTaskExpired
		}
		return t, nil
	}
	return FlatTask{}, ErrUnknownTask
}

// RecordCodeCheck stores the latest report for an algorithmic task. The
// report is keyed by task id, so it is recorded even when the candidate has
// already moved on.
func (s *Sequencer) RecordCodeCheck(taskID string, result model.CodeCheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrAttemptClosed
	}
	if s.state == StateFinished {
		return ErrExamFinished
	}

	s.progress.CodeCheckResults[taskID] = result
	s.save(func(ctx context.Context) error {
		return s.store.SaveCheckResults(ctx, s.token, s.progress.CodeCheckResults)
	})
	return nil
}

// Close detaches the sequencer from its progress: every later mutation is
// refused with ErrAttemptClosed and nothing more is written. Used when the
// progress was reset underneath a live attempt.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// State returns the lifecycle state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot is a copy of the attempt state for display and reload.
type Snapshot struct {
	State            State                            `json:"state"`
	CurrentTaskIndex int                              `json:"current_task_index"`
	TotalTasks       int                              `json:"total_tasks"`
	TaskKey          string                           `json:"task_key,omitempty"`
	TaskKind         model.TaskKind                   `json:"task_kind,omitempty"`
	Remaining        int                              `json:"remaining_seconds"`
	Expired          bool                             `json:"expired"`
	Draft            string                           `json:"draft"`
	Answers          []model.Answer                   `json:"answers"`
	Timers           map[string]int                   `json:"timers"`
	CodeCheckResults map[string]model.CodeCheckResult `json:"check_results"`
}

// Snapshot returns a copy of the current state.
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:            s.state,
		CurrentTaskIndex: s.progress.CurrentTaskIndex,
		TotalTasks:       len(s.tasks),
		Draft:            s.progress.DraftAnswer,
		Answers:          append([]model.Answer{}, s.progress.Answers...),
		Timers:           make(map[string]int, len(s.progress.Timers)),
		CodeCheckResults: make(map[string]model.CodeCheckResult, len(s.progress.CodeCheckResults)),
	}
	for k, v := range s.progress.Timers {
		snap.Timers[k] = v
	}
	for k, v := range s.progress.CodeCheckResults {
		snap.CodeCheckResults[k] = v
	}
	if len(s.tasks) > 0 && s.progress.CurrentTaskIndex < len(s.tasks) {
		t := s.tasks[s.progress.CurrentTaskIndex]
		snap.TaskKey = t.Key
		snap.TaskKind = t.Kind()
		snap.Remaining = s.progress.Timers[t.Key]
		snap.Expired = snap.Remaining == 0
	}
	return snap
}

// Tasks returns the flattened task order.
func (s *Sequencer) Tasks() []FlatTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FlatTask, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// ─── internal transitions (caller holds mu) ─────────────────────────

// react applies the auto-submit rule after a timer or draft change: an
// expired active task with a non-empty draft is submitted with that draft.
// An expired task with an empty draft stays unanswered and the pointer does
// not move.
func (s *Sequencer) react() {
	if s.state != StateActive || len(s.tasks) == 0 {
		return
	}
	if s.activeRemaining() != 0 {
		return
	}
	if strings.TrimSpace(s.progress.DraftAnswer) == "" {
		return
	}
	s.submit(s.tasks[s.progress.CurrentTaskIndex], s.progress.DraftAnswer)
}

func (s *Sequencer) submit(task FlatTask, text string) {
	answer := newAnswer(task, text, s.now().UnixMilli())

	answers := make([]model.Answer, 0, len(s.progress.Answers)+1)
	for _, a := range s.progress.Answers {
		if a.TaskKey != task.Key {
			answers = append(answers, a)
		}
	}
	s.progress.Answers = append(answers, answer)
	s.save(func(ctx context.Context) error {
		return s.store.SaveAnswers(ctx, s.token, s.progress.Answers)
	})
	if s.onAnswer != nil {
		token, hook := s.token, s.onAnswer
		s.effects = append(s.effects, func() { hook(token, answer) })
	}

	if next := task.Index + 1; next < len(s.tasks) {
		s.moveTo(next)
		return
	}

	s.progress.DraftAnswer = ""
	s.saveDraft()
	s.finish()
}

func (s *Sequencer) moveTo(index int) {
	s.progress.CurrentTaskIndex = index
	s.progress.DraftAnswer = ""
	if a, ok := s.progress.AnswerFor(s.tasks[index].Key); ok {
		s.progress.DraftAnswer = a.Text
	}
	s.saveIndex()
	s.saveDraft()
}

func (s *Sequencer) finish() {
	if s.state == StateFinished {
		return
	}
	s.state = StateFinished
	s.progress.Finished = true
	s.save(func(ctx context.Context) error {
		return s.store.MarkFinished(ctx, s.token)
	})

	if s.finishDispatched || s.onFinish == nil {
		s.finishDispatched = true
		return
	}
	s.finishDispatched = true

	ev := Finish{
		AccessToken:      s.token,
		Definition:       s.def,
		Answers:          append([]model.Answer(nil), s.progress.Answers...),
		CodeCheckResults: make(map[string]model.CodeCheckResult, len(s.progress.CodeCheckResults)),
	}
	for k, v := range s.progress.CodeCheckResults {
		ev.CodeCheckResults[k] = v
	}
	hook := s.onFinish
	s.effects = append(s.effects, func() { hook(ev) })
}

func (s *Sequencer) clampIndex() {
	if len(s.tasks) == 0 {
		return
	}
	if s.progress.CurrentTaskIndex >= len(s.tasks) {
		s.progress.CurrentTaskIndex = len(s.tasks) - 1
		s.saveIndex()
	}
}

func (s *Sequencer) requireActive() error {
	switch {
	case s.closed:
		return ErrAttemptClosed
	case s.token == "":
		return ErrNotInitialized
	case s.state == StateFinished:
		return ErrExamFinished
	case s.state != StateActive || len(s.tasks) == 0:
		return ErrNotLoaded
	}
	return nil
}

func (s *Sequencer) activeRemaining() int {
	return s.progress.Timers[s.tasks[s.progress.CurrentTaskIndex].Key]
}

// ─── write-through ──────────────────────────────────────────────────

func (s *Sequencer) saveTimers() {
	s.save(func(ctx context.Context) error {
		return s.store.SaveTimers(ctx, s.token, s.progress.Timers)
	})
}

func (s *Sequencer) saveIndex() {
	s.save(func(ctx context.Context) error {
		return s.store.SaveCurrentIndex(ctx, s.token, s.progress.CurrentTaskIndex)
	})
}

func (s *Sequencer) saveDraft() {
	s.save(func(ctx context.Context) error {
		return s.store.SaveDraft(ctx, s.token, s.progress.DraftAnswer)
	})
}

// save writes synchronously. A failed write is logged; in-memory state stays
// authoritative and the next write of the same field repairs the store.
func (s *Sequencer) save(write func(ctx context.Context) error) {
	if s.closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		s.log.Error().Err(err).Str("token", s.token).Msg("Progress write failed")
	}
}

// flush runs the hooks queued by the last transition outside the lock.
func (s *Sequencer) flush() {
	s.mu.Lock()
	effects := s.effects
	s.effects = nil
	s.mu.Unlock()

	for _, fn := range effects {
		fn()
	}
}
