package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exam-runner/internal/model"
)

// ErrNotFound is returned when no candidate matches an access token.
var ErrNotFound = errors.New("not found")

// SessionRepository reads exam definitions and writes seeded exams.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// GetDefinitionByToken resolves the exam session of the candidate holding
// accessToken, with its question sets and algorithmic tasks in order.
func (r *SessionRepository) GetDefinitionByToken(ctx context.Context, accessToken string) (*model.ExamDefinition, error) {
	def := &model.ExamDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT s.id, s.description, s.created_at
		 FROM candidates c
		 JOIN exam_sessions s ON s.id = c.session_id
		 WHERE c.access_token = $1`, accessToken,
	).Scan(&def.SessionID, &def.Description, &def.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	if def.Tests, err = r.questionSets(ctx, def.SessionID); err != nil {
		return nil, err
	}
	if def.AlgorithmTasks, err = r.algorithmTasks(ctx, def.SessionID); err != nil {
		return nil, err
	}
	return def, nil
}

func (r *SessionRepository) questionSets(ctx context.Context, sessionID uuid.UUID) ([]model.QuestionSet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.topic, t.question_count, t.created_at,
		        q.id, q.text, q.option_a, q.option_b, q.option_c, q.option_d, q.correct_answer
		 FROM tests t
		 LEFT JOIN questions q ON q.test_id = t.id
		 WHERE t.session_id = $1
		 ORDER BY t.position, t.id, q.position, q.id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query question sets: %w", err)
	}
	defer rows.Close()

	sets := []model.QuestionSet{}
	for rows.Next() {
		var (
			set   model.QuestionSet
			qID   *int
			qText *string
			a, b  *string
			c, d  *string
			key   *string
		)
		if err := rows.Scan(&set.TestID, &set.Topic, &set.QuestionCount, &set.CreatedAt,
			&qID, &qText, &a, &b, &c, &d, &key); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}

		if n := len(sets); n == 0 || sets[n-1].TestID != set.TestID {
			set.SessionID = sessionID
			set.Questions = []model.Question{}
			sets = append(sets, set)
		}
		if qID == nil {
			continue
		}
		cur := &sets[len(sets)-1]
		cur.Questions = append(cur.Questions, model.Question{
			ID:            *qID,
			Text:          deref(qText),
			OptionA:       deref(a),
			OptionB:       deref(b),
			OptionC:       deref(c),
			OptionD:       deref(d),
			CorrectAnswer: deref(key),
		})
	}
	return sets, rows.Err()
}

func (r *SessionRepository) algorithmTasks(ctx context.Context, sessionID uuid.UUID) ([]model.AlgorithmTask, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT task_id, title, description, difficulty, assigned_at
		 FROM algorithm_tasks
		 WHERE session_id = $1
		 ORDER BY position, id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query algorithm tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.AlgorithmTask{}
	for rows.Next() {
		var t model.AlgorithmTask
		if err := rows.Scan(&t.TaskID, &t.Title, &t.Description, &t.Difficulty, &t.AssignedAt); err != nil {
			return nil, fmt.Errorf("scan algorithm task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CreateExam inserts a session with its question sets, algorithmic tasks
// and one candidate per name, in a single transaction.
func (r *SessionRepository) CreateExam(ctx context.Context, def *model.ExamDefinition, candidateNames []string) (uuid.UUID, []model.Candidate, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sessionID uuid.UUID
	if err := tx.QueryRow(ctx,
		`INSERT INTO exam_sessions (description) VALUES ($1) RETURNING id`, def.Description,
	).Scan(&sessionID); err != nil {
		return uuid.Nil, nil, fmt.Errorf("insert session: %w", err)
	}

	for ti, set := range def.Tests {
		var testID int
		if err := tx.QueryRow(ctx,
			`INSERT INTO tests (session_id, topic, question_count, position)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			sessionID, set.Topic, len(set.Questions), ti,
		).Scan(&testID); err != nil {
			return uuid.Nil, nil, fmt.Errorf("insert test %q: %w", set.Topic, err)
		}

		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"questions"},
			[]string{"test_id", "position", "text", "option_a", "option_b", "option_c", "option_d", "correct_answer"},
			pgx.CopyFromSlice(len(set.Questions), func(i int) ([]any, error) {
				q := set.Questions[i]
				return []any{testID, i, q.Text, q.OptionA, q.OptionB, q.OptionC, q.OptionD, q.CorrectAnswer}, nil
			}),
		)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("copy questions of %q: %w", set.Topic, err)
		}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"algorithm_tasks"},
		[]string{"session_id", "task_id", "title", "description", "difficulty", "position"},
		pgx.CopyFromSlice(len(def.AlgorithmTasks), func(i int) ([]any, error) {
			t := def.AlgorithmTasks[i]
			return []any{sessionID, t.TaskID, t.Title, t.Description, t.Difficulty, i}, nil
		}),
	)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("copy algorithm tasks: %w", err)
	}

	candidates := make([]model.Candidate, 0, len(candidateNames))
	for _, name := range candidateNames {
		c := model.Candidate{SessionID: sessionID, CandidateName: name, AccessToken: uuid.NewString()}
		if err := tx.QueryRow(ctx,
			`INSERT INTO candidates (session_id, candidate_name, access_token)
			 VALUES ($1, $2, $3) RETURNING id, created_at`,
			sessionID, name, c.AccessToken,
		).Scan(&c.ID, &c.CreatedAt); err != nil {
			return uuid.Nil, nil, fmt.Errorf("insert candidate %q: %w", name, err)
		}
		candidates = append(candidates, c)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, nil, fmt.Errorf("commit: %w", err)
	}
	return sessionID, candidates, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
