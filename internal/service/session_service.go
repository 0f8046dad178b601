package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exam-runner/internal/config"
	"github.com/stemsi/exam-runner/internal/exam"
	"github.com/stemsi/exam-runner/internal/model"
	"github.com/stemsi/exam-runner/internal/repository"
	"github.com/stemsi/exam-runner/internal/store"
)

// DefinitionCacheTTL bounds how long a resolved definition is cached.
const DefinitionCacheTTL = 10 * time.Minute

// ErrSessionNotFound is returned for unknown access tokens.
var ErrSessionNotFound = errors.New("session not found")

// DefinitionSource resolves the exam definition of an access token.
type DefinitionSource interface {
	GetDefinitionByToken(ctx context.Context, accessToken string) (*model.ExamDefinition, error)
}

// CandidateStarter records the start of an attempt.
type CandidateStarter interface {
	MarkStarted(ctx context.Context, accessToken string) (alreadyStarted bool, err error)
}

// SessionService serves exam definitions and the start flow.
type SessionService struct {
	defs       DefinitionSource
	candidates CandidateStarter
	cache      store.KV
	progress   *store.ProgressStore
	attempts   *AttemptService
	log        zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	defs DefinitionSource,
	candidates CandidateStarter,
	cache store.KV,
	progress *store.ProgressStore,
	attempts *AttemptService,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		defs:       defs,
		candidates: candidates,
		cache:      cache,
		progress:   progress,
		attempts:   attempts,
		log:        log.With().Str("component", "session_service").Logger(),
	}
}

// FetchSessionByToken returns the full definition, cache first. Failures are
// *exam.DefinitionLoadError.
func (s *SessionService) FetchSessionByToken(ctx context.Context, accessToken string) (*model.ExamDefinition, error) {
	key := config.CacheKey.SessionDefinitionKey(accessToken)

	vals, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("token", accessToken).Msg("Definition cache read failed")
	} else if raw, ok := vals[key]; ok {
		var def model.ExamDefinition
		if err := json.Unmarshal([]byte(raw), &def); err == nil {
			return &def, nil
		}
		s.log.Warn().Str("token", accessToken).Msg("Discarding malformed cached definition")
	}

	def, err := s.defs.GetDefinitionByToken(ctx, accessToken)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &exam.DefinitionLoadError{Status: http.StatusNotFound, Message: ErrSessionNotFound.Error()}
	}
	if err != nil {
		return nil, &exam.DefinitionLoadError{Message: err.Error()}
	}

	if data, err := json.Marshal(def); err == nil {
		if err := s.cache.Set(ctx, key, string(data), DefinitionCacheTTL); err != nil {
			s.log.Warn().Err(err).Str("token", accessToken).Msg("Definition cache write failed")
		}
	}
	return def, nil
}

// GetPayload returns the candidate-facing definition.
func (s *SessionService) GetPayload(ctx context.Context, accessToken string) (*model.ExamPayload, error) {
	def, err := s.FetchSessionByToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return def.Payload(), nil
}

// StartSession records the start, sets the started flag and issues the
// attempt token. Starting again rotates the token.
func (s *SessionService) StartSession(ctx context.Context, accessToken string) (*model.StartSessionResponse, error) {
	alreadyStarted, err := s.candidates.MarkStarted(ctx, accessToken)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	if err := s.progress.MarkStarted(ctx, accessToken); err != nil {
		return nil, fmt.Errorf("mark started: %w", err)
	}

	attemptToken, expiresAt, err := s.attempts.Issue(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	msg := "Session started"
	if alreadyStarted {
		msg = "Session already started"
	}
	s.log.Info().Str("token", accessToken).Bool("already_started", alreadyStarted).Msg(msg)

	return &model.StartSessionResponse{
		StartSessionResult: model.StartSessionResult{AlreadyStarted: alreadyStarted, Message: msg},
		AttemptToken:       attemptToken,
		ExpiresAt:          expiresAt,
	}, nil
}

// Progress returns the persisted progress of accessToken.
func (s *SessionService) Progress(ctx context.Context, accessToken string) (*model.SessionProgress, error) {
	return s.progress.Load(ctx, accessToken)
}

// Reset clears the progress, the attempt owner and the cached definition, so
// the candidate starts over. The reset marker it leaves makes a server
// running the attempt drop its live copy.
func (s *SessionService) Reset(ctx context.Context, accessToken string) error {
	if err := s.progress.Reset(ctx, accessToken); err != nil {
		return err
	}
	if err := s.attempts.Revoke(ctx, accessToken); err != nil {
		return fmt.Errorf("revoke attempt: %w", err)
	}
	if err := s.cache.Del(ctx, config.CacheKey.SessionDefinitionKey(accessToken)); err != nil {
		return fmt.Errorf("drop cached definition: %w", err)
	}
	s.log.Info().Str("token", accessToken).Msg("Session reset")
	return nil
}
