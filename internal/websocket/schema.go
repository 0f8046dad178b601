package websocket

import (
	"github.com/stemsi/exam-runner/internal/exam"
	"github.com/stemsi/exam-runner/internal/model"
	"github.com/stemsi/exam-runner/internal/violation"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionDraft     Action = "draft"
	ActionSubmit    Action = "submit"
	ActionBack      Action = "back"
	ActionCheckCode Action = "check_code"
	ActionSignal    Action = "signal"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// DraftRequest replaces the draft of the active task.
type DraftRequest struct {
	Action Action `json:"action"`
	Text   string `json:"text"`
}

// SubmitRequest submits an answer for the active task.
type SubmitRequest struct {
	Action  Action `json:"action"`
	TaskKey string `json:"task_key" binding:"required,max=200,taskkey"`
	Answer  string `json:"answer" binding:"required"`
}

// CheckCodeRequest runs source against the task's sub-tests.
type CheckCodeRequest struct {
	Action   Action `json:"action"`
	TaskKey  string `json:"task_key" binding:"required,max=200,taskkey"`
	Language string `json:"language" binding:"required,max=32"`
	Source   string `json:"source" binding:"required,max=65536"`
}

// SignalKindResize carries a viewport update instead of an event.
const SignalKindResize = "resize"

// SignalRequest relays a browser signal to the violation monitor.
type SignalRequest struct {
	Action   Action              `json:"action"`
	Kind     string              `json:"kind" binding:"required,oneof=visibilitychange blur keydown contextmenu resize"`
	Hidden   bool                `json:"hidden"`
	Key      violation.KeyEvent  `json:"key"`
	Viewport *violation.Viewport `json:"viewport"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState       Event = "state"
	EventCheckResult Event = "check_result"
	EventViolation   Event = "violation"
	EventFinished    Event = "finished"
	EventError       Event = "error"
	EventPong        Event = "pong"
)

// StateResponse carries the latest attempt snapshot.
type StateResponse struct {
	Event Event         `json:"event"`
	State exam.Snapshot `json:"state"`
}

type CheckResultResponse struct {
	Event   Event                  `json:"event"`
	TaskKey string                 `json:"task_key"`
	Result  *model.CodeCheckResult `json:"result"`
}

type ViolationResponse struct {
	Event  Event  `json:"event"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
	At     int64  `json:"at"`
}

// FinishedResponse is sent once the attempt is finished.
type FinishedResponse struct {
	Event Event         `json:"event"`
	State exam.Snapshot `json:"state"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
