package worker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-runner/internal/config"
	"github.com/stemsi/exam-runner/internal/model"
)

// AnswerWorker consumes persist_answers_queue and UPSERTs answers to PostgreSQL.
type AnswerWorker struct {
	pool *pgxpool.Pool
	loop *batchLoop[model.AnswerRecord]
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	w := &AnswerWorker{pool: pool}
	w.loop = newBatchLoop(
		NewRedisSource(rdb, config.WorkerKey.PersistAnswersQueue),
		log.With().Str("component", "answer_worker").Logger(),
		w.bulkUpsert,
		w.upsertSingle,
	)
	return w
}

// Start begins the worker loop. Call in a goroutine.
func (w *AnswerWorker) Start(ctx context.Context) { w.loop.run(ctx) }

const answerUpsertConflict = `
	ON CONFLICT (candidate_id, task_key) DO UPDATE
	SET kind = EXCLUDED.kind,
	    question_id = EXCLUDED.question_id,
	    task_id = EXCLUDED.task_id,
	    answer = EXCLUDED.answer,
	    submitted_at = EXCLUDED.submitted_at,
	    updated_at = NOW()
	WHERE candidate_answers.submitted_at <= EXCLUDED.submitted_at`

func (w *AnswerWorker) bulkUpsert(ctx context.Context, batch []model.AnswerRecord) error {
	batch = latestAnswers(batch)
	n := len(batch)

	tokens := make([]string, 0, n)
	keys := make([]string, 0, n)
	kinds := make([]string, 0, n)
	questionIDs := make([]*int, 0, n)
	taskIDs := make([]*string, 0, n)
	texts := make([]string, 0, n)
	submittedAts := make([]time.Time, 0, n)

	for _, r := range batch {
		tokens = append(tokens, r.AccessToken)
		keys = append(keys, r.TaskKey)
		kinds = append(kinds, string(r.Kind))
		questionIDs = append(questionIDs, r.QuestionID)
		taskIDs = append(taskIDs, r.TaskID)
		texts = append(texts, r.Text)
		submittedAts = append(submittedAts, time.UnixMilli(r.SubmittedAt))
	}

	// Rows of unknown tokens fall out of the join.
	query := `
		INSERT INTO candidate_answers (candidate_id, task_key, kind, question_id, task_id, answer, submitted_at)
		SELECT c.id, u.task_key, u.kind, u.question_id, u.task_id, u.answer, u.submitted_at
		FROM UNNEST(
			$1::text[],
			$2::text[],
			$3::text[],
			$4::int[],
			$5::text[],
			$6::text[],
			$7::timestamptz[]
		) AS u (access_token, task_key, kind, question_id, task_id, answer, submitted_at)
		JOIN candidates c ON c.access_token = u.access_token` + answerUpsertConflict

	_, err := w.pool.Exec(ctx, query, tokens, keys, kinds, questionIDs, taskIDs, texts, submittedAts)
	return err
}

func (w *AnswerWorker) upsertSingle(ctx context.Context, r model.AnswerRecord) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO candidate_answers (candidate_id, task_key, kind, question_id, task_id, answer, submitted_at)
		SELECT c.id, $2, $3, $4, $5, $6, $7
		FROM candidates c WHERE c.access_token = $1`+answerUpsertConflict,
		r.AccessToken, r.TaskKey, string(r.Kind), r.QuestionID, r.TaskID, r.Text, time.UnixMilli(r.SubmittedAt),
	)
	return err
}

// latestAnswers keeps the newest record per (token, task key), in first-seen
// order. One statement may not update the same row twice.
func latestAnswers(batch []model.AnswerRecord) []model.AnswerRecord {
	type key struct{ token, task string }
	pos := make(map[key]int, len(batch))
	out := make([]model.AnswerRecord, 0, len(batch))
	for _, r := range batch {
		k := key{r.AccessToken, r.TaskKey}
		if i, ok := pos[k]; ok {
			if r.SubmittedAt >= out[i].SubmittedAt {
				out[i] = r
			}
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}
