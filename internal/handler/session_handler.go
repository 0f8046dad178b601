package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-runner/internal/response"
	"github.com/stemsi/exam-runner/internal/service"
)

// maxAccessTokenLen bounds the :token path parameter before it reaches a
// cache key or a query.
const maxAccessTokenLen = 128

// SessionHandler serves the public, access-token addressed session endpoints.
type SessionHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// GetSession godoc
// GET /api/v1/public/session/:token
// Returns the exam definition without correct answers.
func (h *SessionHandler) GetSession(c *gin.Context) {
	token, ok := accessToken(c)
	if !ok {
		return
	}

	payload, err := h.sessions.GetPayload(c.Request.Context(), token)
	if err != nil {
		h.fail(c, token, err)
		return
	}
	response.Success(c, http.StatusOK, payload)
}

// StartSession godoc
// POST /api/v1/public/session/:token/start
// Records the start and issues the attempt token for the candidate stream.
func (h *SessionHandler) StartSession(c *gin.Context) {
	token, ok := accessToken(c)
	if !ok {
		return
	}

	res, err := h.sessions.StartSession(c.Request.Context(), token)
	if err != nil {
		h.fail(c, token, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// GetState godoc
// GET /api/v1/public/session/:token/state
// Returns the persisted progress, for reload.
func (h *SessionHandler) GetState(c *gin.Context) {
	token, ok := accessToken(c)
	if !ok {
		return
	}

	progress, err := h.sessions.Progress(c.Request.Context(), token)
	if err != nil {
		h.fail(c, token, err)
		return
	}
	response.Success(c, http.StatusOK, progress)
}

func (h *SessionHandler) fail(c *gin.Context, token string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("token", token).Str("request_id", response.RequestID(c)).Msg("Session request failed")
	}
	response.Fail(c, status, code)
}

func accessToken(c *gin.Context) (string, bool) {
	token := c.Param("token")
	if token == "" || len(token) > maxAccessTokenLen {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return "", false
	}
	return token, true
}
