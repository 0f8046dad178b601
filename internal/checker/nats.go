package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-runner/internal/model"
)

// natsReply is the runner's reply envelope on the request subject.
type natsReply struct {
	Result *model.CodeCheckResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// NATSChecker sends check requests as NATS request/reply messages.
type NATSChecker struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
	log     zerolog.Logger
}

// NewNATSChecker creates a checker publishing on subject. timeout applies
// when the caller's context has no deadline.
func NewNATSChecker(nc *nats.Conn, subject string, timeout time.Duration, log zerolog.Logger) *NATSChecker {
	return &NATSChecker{
		nc:      nc,
		subject: subject,
		timeout: timeout,
		log:     log.With().Str("component", "nats_checker").Logger(),
	}
}

func (c *NATSChecker) Check(ctx context.Context, req model.CodeCheckRequest) (*model.CodeCheckResult, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode check request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", c.subject, err)
	}

	var reply natsReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode check reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrRunner, reply.Error)
	}
	if reply.Result == nil {
		return nil, fmt.Errorf("%w: empty reply", ErrRunner)
	}

	c.log.Debug().Str("task_id", req.TaskID).Str("status", reply.Result.Status).Msg("Code checked")
	return reply.Result, nil
}
