package worker

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-runner/internal/config"
	"github.com/stemsi/exam-runner/internal/model"
)

// ResultWorker consumes persist_results_queue and stores final results.
type ResultWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
	loop *batchLoop[model.ResultSubmission]
}

func NewResultWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ResultWorker {
	w := &ResultWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "result_worker").Logger(),
	}
	w.loop = newBatchLoop(
		NewRedisSource(rdb, config.WorkerKey.PersistResultsQueue),
		w.log,
		w.bulkUpsert,
		w.upsertSingle,
	)
	return w
}

func (w *ResultWorker) Start(ctx context.Context) { w.loop.run(ctx) }

const resultUpsertConflict = `
	ON CONFLICT (candidate_id) DO UPDATE
	SET test_results = EXCLUDED.test_results,
	    algorithm_results = EXCLUDED.algorithm_results,
	    violation_detected = EXCLUDED.violation_detected,
	    submitted_at = NOW()`

// ----------------------------------------------------------------
// BULK PostgreSQL UPSERT using UNNEST
// ----------------------------------------------------------------

func (w *ResultWorker) bulkUpsert(ctx context.Context, batch []model.ResultSubmission) error {
	batch = latestResults(batch)
	n := len(batch)

	tokens := make([]string, 0, n)
	tests := make([]string, 0, n)
	algorithms := make([]string, 0, n)
	violations := make([]bool, 0, n)
	for _, r := range batch {
		tokens = append(tokens, r.AccessToken)
		tests = append(tests, r.TestResults)
		algorithms = append(algorithms, r.AlgorithmResults)
		violations = append(violations, r.ViolationDetected == "true")
	}

	query := `
		INSERT INTO candidate_results (candidate_id, test_results, algorithm_results, violation_detected)
		SELECT c.id, u.test_results, u.algorithm_results, u.violation_detected
		FROM UNNEST(
			$1::text[],
			$2::text[],
			$3::text[],
			$4::bool[]
		) AS u (access_token, test_results, algorithm_results, violation_detected)
		JOIN candidates c ON c.access_token = u.access_token` + resultUpsertConflict

	if _, err := w.pool.Exec(ctx, query, tokens, tests, algorithms, violations); err != nil {
		return err
	}

	w.clearCachedDefinitions(ctx, tokens)
	return nil
}

// ----------------------------------------------------------------
// FALLBACK single upsert
// ----------------------------------------------------------------

func (w *ResultWorker) upsertSingle(ctx context.Context, r model.ResultSubmission) error {
	tag, err := w.pool.Exec(ctx, `
		INSERT INTO candidate_results (candidate_id, test_results, algorithm_results, violation_detected)
		SELECT c.id, $2, $3, $4 FROM candidates c WHERE c.access_token = $1`+resultUpsertConflict,
		r.AccessToken, r.TestResults, r.AlgorithmResults, r.ViolationDetected == "true",
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: unknown candidate %q", errDrop, r.AccessToken)
	}
	w.clearCachedDefinitions(ctx, []string{r.AccessToken})
	return nil
}

// clearCachedDefinitions drops definitions no finished attempt needs again.
func (w *ResultWorker) clearCachedDefinitions(ctx context.Context, tokens []string) {
	if w.rdb == nil {
		return
	}
	pipe := w.rdb.Pipeline()
	for _, t := range tokens {
		pipe.Del(ctx, config.CacheKey.SessionDefinitionKey(t))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Failed to clear cached definitions")
	}
}

// latestResults keeps the last submission per token.
func latestResults(batch []model.ResultSubmission) []model.ResultSubmission {
	pos := make(map[string]int, len(batch))
	out := make([]model.ResultSubmission, 0, len(batch))
	for _, r := range batch {
		if i, ok := pos[r.AccessToken]; ok {
			out[i] = r
			continue
		}
		pos[r.AccessToken] = len(out)
		out = append(out, r)
	}
	return out
}
