package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/stemsi/exam-runner/internal/model"
)

// MonitorSource is the data access MonitorService needs.
type MonitorSource interface {
	ListCandidates(ctx context.Context, sessionID uuid.UUID) ([]model.CandidateStatus, error)
	GetAnsweredCounts(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]int64, error)
	GetViolationCounts(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]int64, error)
}

// MonitorService orchestrates live session monitoring.
type MonitorService struct {
	repo MonitorSource
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(repo MonitorSource) *MonitorService {
	return &MonitorService{repo: repo}
}

// SessionSnapshot holds one row per candidate plus the session total of
// logged violations.
type SessionSnapshot struct {
	Candidates      []model.CandidateStatus
	TotalViolations int64
}

// GetSessionProgress returns answered and violation counts for every
// candidate of a session. The three reads run concurrently.
func (s *MonitorService) GetSessionProgress(ctx context.Context, sessionID uuid.UUID) (*SessionSnapshot, error) {
	var (
		candidates                   []model.CandidateStatus
		answered, violations         map[uuid.UUID]int64
		listErr, answeredErr, vioErr error
		wg                           sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		candidates, listErr = s.repo.ListCandidates(ctx, sessionID)
	}()
	go func() {
		defer wg.Done()
		answered, answeredErr = s.repo.GetAnsweredCounts(ctx, sessionID)
	}()
	go func() {
		defer wg.Done()
		violations, vioErr = s.repo.GetViolationCounts(ctx, sessionID)
	}()
	wg.Wait()

	// Candidates and answers are critical; violations are best-effort.
	if listErr != nil {
		return nil, listErr
	}
	if answeredErr != nil {
		return nil, answeredErr
	}

	snap := &SessionSnapshot{Candidates: candidates}
	for i := range snap.Candidates {
		c := &snap.Candidates[i]
		c.Answered = answered[c.CandidateID]
		if vioErr == nil {
			c.Violations = violations[c.CandidateID]
			snap.TotalViolations += c.Violations
		}
	}
	return snap, nil
}
