// Package checker sends candidate code to the external code runner.
package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exam-runner/internal/model"
)

// CheckPath is the runner endpoint, relative to the API base URL.
const CheckPath = "/public/code/check"

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 512

// ErrRunner wraps non-2xx runner responses.
var ErrRunner = errors.New("code runner error")

// HTTPChecker posts check requests to the runner's HTTP API.
type HTTPChecker struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPChecker creates a checker for baseURL. timeout bounds each request.
func NewHTTPChecker(baseURL string, timeout time.Duration, log zerolog.Logger) *HTTPChecker {
	return &HTTPChecker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "http_checker").Logger(),
	}
}

func (c *HTTPChecker) Check(ctx context.Context, req model.CodeCheckRequest) (*model.CodeCheckResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode check request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+CheckPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build check request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRunner, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result model.CodeCheckResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode check result: %w", err)
	}

	c.log.Debug().
		Str("task_id", req.TaskID).
		Str("language", string(req.Language)).
		Str("status", result.Status).
		Dur("took", time.Since(start)).
		Msg("Code checked")
	return &result, nil
}
