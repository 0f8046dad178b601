package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-runner/internal/config"
	"github.com/stemsi/exam-runner/internal/model"
)

// ViolationWorker consumes persist_violations_queue and copies events into
// violation_events.
type ViolationWorker struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
	loop *batchLoop[model.ViolationEvent]
}

func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	w := &ViolationWorker{
		pool: pool,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
	w.loop = newBatchLoop(
		NewRedisSource(rdb, config.WorkerKey.PersistViolationsQueue),
		w.log,
		w.bulkInsert,
		w.insertSingle,
	)
	return w
}

func (w *ViolationWorker) Start(ctx context.Context) { w.loop.run(ctx) }

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []model.ViolationEvent) error {
	ids, err := w.candidateIDs(ctx, batch)
	if err != nil {
		return err
	}

	rows := make([][]interface{}, 0, len(batch))
	for _, ev := range batch {
		id, ok := ids[ev.AccessToken]
		if !ok {
			w.log.Warn().Str("token", ev.AccessToken).Msg("Dropping violation for unknown candidate")
			continue
		}
		rows = append(rows, []interface{}{id, ev.Signal, ev.Detail, time.UnixMilli(ev.Timestamp)})
	}
	if len(rows) == 0 {
		return nil
	}

	_, err = w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"violation_events"},
		[]string{"candidate_id", "signal", "detail", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *ViolationWorker) candidateIDs(ctx context.Context, batch []model.ViolationEvent) (map[string]uuid.UUID, error) {
	tokens := make([]string, 0, len(batch))
	for _, ev := range batch {
		tokens = append(tokens, ev.AccessToken)
	}

	rows, err := w.pool.Query(ctx,
		`SELECT access_token, id FROM candidates WHERE access_token = ANY($1)`, tokens)
	if err != nil {
		return nil, fmt.Errorf("resolve candidates: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]uuid.UUID, len(tokens))
	for rows.Next() {
		var token string
		var id uuid.UUID
		if err := rows.Scan(&token, &id); err != nil {
			return nil, err
		}
		ids[token] = id
	}
	return ids, rows.Err()
}

func (w *ViolationWorker) insertSingle(ctx context.Context, ev model.ViolationEvent) error {
	tag, err := w.pool.Exec(ctx,
		`INSERT INTO violation_events (candidate_id, signal, detail, occurred_at)
		 SELECT c.id, $2, $3, $4 FROM candidates c WHERE c.access_token = $1`,
		ev.AccessToken, ev.Signal, ev.Detail, time.UnixMilli(ev.Timestamp),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: unknown candidate %q", errDrop, ev.AccessToken)
	}
	return nil
}
