package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exam-runner/internal/model"
)

// MonitorRepository reads the durable side of live session monitoring:
// who has started, how many answers reached PostgreSQL, and how many
// violations were logged.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ListCandidates returns every candidate of a session with its start and
// finish markers.
func (r *MonitorRepository) ListCandidates(ctx context.Context, sessionID uuid.UUID) ([]model.CandidateStatus, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.candidate_name, c.started_at, cr.candidate_id IS NOT NULL
		 FROM candidates c
		 LEFT JOIN candidate_results cr ON cr.candidate_id = c.id
		 WHERE c.session_id = $1
		 ORDER BY c.candidate_name`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []model.CandidateStatus
	for rows.Next() {
		var s model.CandidateStatus
		if err := rows.Scan(&s.CandidateID, &s.CandidateName, &s.StartedAt, &s.Finished); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetAnsweredCounts returns the number of persisted answers per candidate.
// Candidates without answers are absent.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countBy(ctx,
		`SELECT a.candidate_id, COUNT(*)
		 FROM candidate_answers a
		 JOIN candidates c ON c.id = a.candidate_id
		 WHERE c.session_id = $1
		 GROUP BY a.candidate_id`, sessionID)
}

// GetViolationCounts returns the number of logged violations per candidate.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countBy(ctx,
		`SELECT v.candidate_id, COUNT(*)
		 FROM violation_events v
		 JOIN candidates c ON c.id = v.candidate_id
		 WHERE c.session_id = $1
		 GROUP BY v.candidate_id`, sessionID)
}

func (r *MonitorRepository) countBy(ctx context.Context, query string, sessionID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
