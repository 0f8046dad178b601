package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stemsi/exam-runner/internal/config"
	"github.com/stemsi/exam-runner/internal/store"
)

// Attempt token errors.
var (
	ErrAttemptTokenInvalid = errors.New("attempt token is invalid")
	// ErrAttemptSuperseded means a later start for the same access token
	// rotated the owner; only the newest connection may drive the attempt.
	ErrAttemptSuperseded = errors.New("attempt was started from another connection")
)

// AttemptClaims is the payload of an attempt token.
type AttemptClaims struct {
	jwt.RegisteredClaims
	AccessToken string `json:"access_token"`
}

// AttemptService issues and validates the signed tokens that bind a
// connection to one candidate attempt.
type AttemptService struct {
	secret []byte
	ttl    time.Duration
	kv     store.KV
	now    func() time.Time
}

// NewAttemptService creates a new AttemptService. kv holds the current
// owner jti per access token.
func NewAttemptService(cfg *config.Config, kv store.KV) *AttemptService {
	return &AttemptService{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.AttemptTokenTTL,
		kv:     kv,
		now:    time.Now,
	}
}

// Issue signs a new attempt token for accessToken and makes it the owner.
func (s *AttemptService) Issue(ctx context.Context, accessToken string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	jti := uuid.NewString()

	claims := AttemptClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   accessToken,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AccessToken: accessToken,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign attempt token: %w", err)
	}

	if err := s.kv.Set(ctx, config.CacheKey.AttemptOwnerKey(accessToken), jti, s.ttl); err != nil {
		return "", time.Time{}, fmt.Errorf("store attempt owner: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates the signature and expiry of tokenStr.
func (s *AttemptService) Parse(tokenStr string) (*AttemptClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AttemptClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAttemptTokenInvalid, err)
	}

	claims, ok := token.Claims.(*AttemptClaims)
	if !ok || !token.Valid || claims.AccessToken == "" {
		return nil, ErrAttemptTokenInvalid
	}
	return claims, nil
}

// ValidateOwner checks that claims belong to the newest start of the attempt.
func (s *AttemptService) ValidateOwner(ctx context.Context, claims *AttemptClaims) error {
	key := config.CacheKey.AttemptOwnerKey(claims.AccessToken)
	vals, err := s.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("check attempt owner: %w", err)
	}
	if vals[key] != claims.ID {
		return ErrAttemptSuperseded
	}
	return nil
}

// Revoke drops the owner so no existing attempt token is accepted.
func (s *AttemptService) Revoke(ctx context.Context, accessToken string) error {
	return s.kv.Del(ctx, config.CacheKey.AttemptOwnerKey(accessToken))
}
