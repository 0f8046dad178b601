package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exam-runner/internal/model"
)

type fakeMonitorSource struct {
	candidates    []model.CandidateStatus
	answered      map[uuid.UUID]int64
	violations    map[uuid.UUID]int64
	listErr       error
	answeredErr   error
	violationsErr error
}

func (f *fakeMonitorSource) ListCandidates(context.Context, uuid.UUID) ([]model.CandidateStatus, error) {
	return f.candidates, f.listErr
}

func (f *fakeMonitorSource) GetAnsweredCounts(context.Context, uuid.UUID) (map[uuid.UUID]int64, error) {
	return f.answered, f.answeredErr
}

func (f *fakeMonitorSource) GetViolationCounts(context.Context, uuid.UUID) (map[uuid.UUID]int64, error) {
	return f.violations, f.violationsErr
}

func TestMonitorService_GetSessionProgress(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	src := &fakeMonitorSource{
		candidates: []model.CandidateStatus{{CandidateID: a, CandidateName: "Ayu"}, {CandidateID: b, CandidateName: "Bima"}},
		answered:   map[uuid.UUID]int64{a: 3},
		violations: map[uuid.UUID]int64{a: 1, b: 2},
	}

	snap, err := NewMonitorService(src).GetSessionProgress(context.Background(), uuid.New())
	require.NoError(t, err)

	require.Len(t, snap.Candidates, 2)
	assert.EqualValues(t, 3, snap.Candidates[0].Answered)
	assert.EqualValues(t, 0, snap.Candidates[1].Answered)
	assert.EqualValues(t, 2, snap.Candidates[1].Violations)
	assert.EqualValues(t, 3, snap.TotalViolations)
}

func TestMonitorService_ViolationsAreBestEffort(t *testing.T) {
	a := uuid.New()
	src := &fakeMonitorSource{
		candidates:    []model.CandidateStatus{{CandidateID: a}},
		answered:      map[uuid.UUID]int64{a: 1},
		violationsErr: errors.New("timeout"),
	}

	snap, err := NewMonitorService(src).GetSessionProgress(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.EqualValues(t, 1, snap.Candidates[0].Answered)
	assert.Zero(t, snap.TotalViolations)
}

func TestMonitorService_AnswerErrorFails(t *testing.T) {
	src := &fakeMonitorSource{answeredErr: errors.New("down")}

	_, err := NewMonitorService(src).GetSessionProgress(context.Background(), uuid.New())
	assert.Error(t, err)
}
