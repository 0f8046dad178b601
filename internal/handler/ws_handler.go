package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-runner/internal/exam"
	"github.com/stemsi/exam-runner/internal/middleware"
	"github.com/stemsi/exam-runner/internal/response"
	"github.com/stemsi/exam-runner/internal/service"
	"github.com/stemsi/exam-runner/internal/validator"
	"github.com/stemsi/exam-runner/internal/violation"
	ws "github.com/stemsi/exam-runner/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams one candidate attempt over a WebSocket: actions in,
// state snapshots and violation notices out.
type WSHandler struct {
	exams    *service.ExamService
	attempts *service.AttemptService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(exams *service.ExamService, attempts *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		exams:    exams,
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// CandidateStream godoc
// WS /ws/v1/candidate/stream?token=<attempt token>
// Attaches to the candidate's attempt and runs it while connected.
func (h *WSHandler) CandidateStream(c *gin.Context) {
	claims := middleware.GetAttemptClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	token := claims.AccessToken
	wsLog := h.log.With().Str("token", token).Logger()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	a, err := h.exams.Attach(ctx, token)
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			wsLog.Error().Err(err).Msg("Attach failed")
		}
		_ = ws.WriteError(conn, string(code), response.GetMessage(code), nil)
		return
	}
	defer h.exams.Detach(a)

	wsLog.Info().Msg("Candidate connected")

	s := &stream{
		ctx:     ctx,
		conn:    conn,
		attempt: a,
		log:     wsLog,
		owner:   func(ctx context.Context) error { return h.attempts.ValidateOwner(ctx, claims) },
	}
	s.sendSnapshot(a.Runner.Sequencer().Snapshot())

	s.wg.Add(1)
	go s.pump()

	s.readLoop()
	cancel()
	s.wg.Wait()

	wsLog.Info().Msg("Candidate disconnected")
}

// stream is one connection to an attempt. Writes are serialized by mu.
type stream struct {
	ctx     context.Context
	conn    *websocket.Conn
	attempt *service.Attempt
	log     zerolog.Logger
	owner   func(ctx context.Context) error

	wg       sync.WaitGroup
	checking atomic.Bool

	mu           sync.Mutex
	finishedSent bool
}

func (s *stream) send(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ws.WriteTyped(s.conn, v); err != nil {
		s.log.Debug().Err(err).Msg("Write failed")
	}
}

func (s *stream) sendSnapshot(snap exam.Snapshot) {
	if snap.State != exam.StateFinished {
		s.send(ws.StateResponse{Event: ws.EventState, State: snap})
		return
	}

	s.mu.Lock()
	already := s.finishedSent
	s.finishedSent = true
	s.mu.Unlock()
	if !already {
		s.send(ws.FinishedResponse{Event: ws.EventFinished, State: snap})
	}
}

func (s *stream) sendCode(code response.ErrCode, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ws.WriteError(s.conn, string(code), response.GetMessage(code), fields); err != nil {
		s.log.Debug().Err(err).Msg("Write failed")
	}
}

func (s *stream) sendError(err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Action failed")
	}
	s.sendCode(code, nil)
}

// pump relays runner snapshots and violations until the stream ends. When
// the attempt is retired underneath, e.g. by a reset, the connection is
// closed so the candidate starts over.
func (s *stream) pump() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.attempt.Closed():
			s.log.Info().Msg("Attempt closed, ending stream")
			s.sendCode(response.ErrSessionInvalidated, nil)
			_ = s.conn.Close()
			return
		case snap := <-s.attempt.Runner.Updates():
			s.sendSnapshot(snap)
		case v := <-s.attempt.Violations():
			s.send(ws.ViolationResponse{
				Event:  ws.EventViolation,
				Reason: v.Reason,
				Detail: v.Detail,
				At:     v.At.UnixMilli(),
			})
		}
	}
}

func (s *stream) readLoop() {
	for {
		data, err := ws.ReadMessage(s.conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendCode(response.ErrInvalidPayload, nil)
			continue
		}

		// Signals keep flowing to the monitor even from a superseded tab.
		if env.Action != ws.ActionPing && env.Action != ws.ActionSignal {
			if err := s.owner(s.ctx); err != nil {
				s.sendError(err)
				if errors.Is(err, service.ErrAttemptSuperseded) {
					return
				}
				continue
			}
		}

		if err := s.dispatch(env.Action, data); err != nil {
			s.sendError(err)
		}
	}
}

func (s *stream) dispatch(action ws.Action, data []byte) error {
	runner := s.attempt.Runner

	switch action {
	case ws.ActionPing:
		s.send(ws.PongResponse{Event: ws.EventPong})

	case ws.ActionDraft:
		var req ws.DraftRequest
		if !s.decode(data, &req) {
			return nil
		}
		return runner.SetDraft(req.Text)

	case ws.ActionSubmit:
		var req ws.SubmitRequest
		if !s.decode(data, &req) {
			return nil
		}
		return runner.Submit(req.TaskKey, req.Answer)

	case ws.ActionBack:
		return runner.Back()

	case ws.ActionCheckCode:
		var req ws.CheckCodeRequest
		if !s.decode(data, &req) {
			return nil
		}
		if !s.checking.CompareAndSwap(false, true) {
			s.sendCode(response.ErrCodeCheckBusy, nil)
			return nil
		}
		s.wg.Add(1)
		go s.checkCode(req)

	case ws.ActionSignal:
		var req ws.SignalRequest
		if !s.decode(data, &req) {
			return nil
		}
		s.signal(req)

	default:
		s.sendCode(response.ErrUnknownAction, map[string]string{"action": string(action)})
	}
	return nil
}

// decode parses and validates a payload, answering validation errors itself.
func (s *stream) decode(data []byte, dst interface{}) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		s.sendCode(response.ErrInvalidPayload, nil)
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		s.sendCode(response.ErrValidation, fields)
		return false
	}
	return true
}

func (s *stream) checkCode(req ws.CheckCodeRequest) {
	defer s.wg.Done()
	defer s.checking.Store(false)

	result, err := s.attempt.Runner.CheckCode(s.ctx, req.TaskKey, req.Language, req.Source)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Str("task_key", req.TaskKey).Msg("Code check failed")
		s.sendError(err)
		return
	}
	s.send(ws.CheckResultResponse{Event: ws.EventCheckResult, TaskKey: req.TaskKey, Result: result})
}

func (s *stream) signal(req ws.SignalRequest) {
	bus := s.attempt.Bus
	if req.Kind == ws.SignalKindResize {
		if req.Viewport == nil {
			s.sendCode(response.ErrValidation, map[string]string{"viewport": "viewport is required for resize"})
			return
		}
		bus.SetViewport(*req.Viewport)
		return
	}
	bus.Emit(&violation.Event{
		Kind:   violation.SignalKind(req.Kind),
		Hidden: req.Hidden,
		Key:    req.Key,
	})
}
