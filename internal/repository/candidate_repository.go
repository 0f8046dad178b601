package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exam-runner/internal/model"
)

// CandidateRepository handles candidate attempts and their outcomes.
type CandidateRepository struct {
	pool *pgxpool.Pool
}

// NewCandidateRepository creates a new CandidateRepository.
func NewCandidateRepository(pool *pgxpool.Pool) *CandidateRepository {
	return &CandidateRepository{pool: pool}
}

// GetByToken returns the candidate holding accessToken.
func (r *CandidateRepository) GetByToken(ctx context.Context, accessToken string) (*model.Candidate, error) {
	c := &model.Candidate{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, candidate_name, access_token, started_at, created_at
		 FROM candidates WHERE access_token = $1`, accessToken,
	).Scan(&c.ID, &c.SessionID, &c.CandidateName, &c.AccessToken, &c.StartedAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query candidate: %w", err)
	}
	return c, nil
}

// MarkStarted sets started_at on the first call. It reports whether the
// attempt had been started before.
func (r *CandidateRepository) MarkStarted(ctx context.Context, accessToken string) (alreadyStarted bool, err error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE candidates SET started_at = NOW()
		 WHERE access_token = $1 AND started_at IS NULL`, accessToken)
	if err != nil {
		return false, fmt.Errorf("mark started: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return false, nil
	}

	// Nothing updated: either unknown or already started.
	if _, err := r.GetByToken(ctx, accessToken); err != nil {
		return false, err
	}
	return true, nil
}

// ListResults returns the stored results of every candidate of a session.
// Candidates without results are omitted.
func (r *CandidateRepository) ListResults(ctx context.Context, sessionID uuid.UUID) ([]model.CandidateResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.candidate_name, cr.test_results, cr.algorithm_results,
		        cr.violation_detected, cr.submitted_at
		 FROM candidate_results cr
		 JOIN candidates c ON c.id = cr.candidate_id
		 WHERE c.session_id = $1
		 ORDER BY cr.submitted_at`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := []model.CandidateResult{}
	for rows.Next() {
		var (
			res model.CandidateResult
			id  uuid.UUID
		)
		if err := rows.Scan(&id, &res.CandidateName, &res.TestResults, &res.AlgorithmResults,
			&res.ViolationDetected, &res.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.CandidateID = id.String()
		results = append(results, res)
	}
	return results, rows.Err()
}

// ListViolations returns the logged violation events of one candidate.
func (r *CandidateRepository) ListViolations(ctx context.Context, accessToken string) ([]model.ViolationEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT v.signal, v.detail, v.occurred_at
		 FROM violation_events v
		 JOIN candidates c ON c.id = v.candidate_id
		 WHERE c.access_token = $1
		 ORDER BY v.occurred_at`, accessToken,
	)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	events := []model.ViolationEvent{}
	for rows.Next() {
		ev := model.ViolationEvent{AccessToken: accessToken}
		var at time.Time
		if err := rows.Scan(&ev.Signal, &ev.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		ev.Timestamp = at.UnixMilli()
		events = append(events, ev)
	}
	return events, rows.Err()
}
