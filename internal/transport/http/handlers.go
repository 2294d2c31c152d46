package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pratyushm/pollq/internal/engine"
)

// Handler groups all HTTP request handlers around an Engine.
type Handler struct {
	engine *engine.Engine
}

// ─── Response envelope ────────────────────────────────────────────────────────

// Every operation responds with one of two envelope shapes:
//
//	{"success":true,  "data": <payload or null>}
//	{"success":false, "error": {"code": "...", "message": "..."}}

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type failureEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type writeMessageData struct {
	MessageID string `json:"message_id"`
}

type healthResp struct {
	Status   string `json:"status"`
	InFlight int    `json:"in_flight"`
	Uptime   string `json:"uptime"`
	Version  string `json:"version"`
}

// statusFor maps an engine error kind to an HTTP status code.
func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindInvalidArgument:
		return http.StatusBadRequest
	case engine.KindDuplicateName, engine.KindMessageNotInFlight:
		return http.StatusConflict
	case engine.KindQueueNotFound, engine.KindNoMessagesAvailable:
		return http.StatusNotFound
	case engine.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, successEnvelope{Success: true, Data: data})
}

// writeEngineError renders err into the failure envelope. Engine errors carry
// their own caller-safe message; anything else renders as a generic store
// failure so no internals leak.
func writeEngineError(w http.ResponseWriter, err error) {
	var e *engine.Error
	if !errors.As(err, &e) {
		writeFailure(w, http.StatusServiceUnavailable, engine.KindStoreUnavailable,
			"the backing store failed")
		return
	}
	writeFailure(w, statusFor(e.Kind), e.Kind, e.Message)
}

func writeFailure(w http.ResponseWriter, code int, kind engine.Kind, msg string) {
	writeJSON(w, code, failureEnvelope{
		Success: false,
		Error:   errorBody{Code: string(kind), Message: msg},
	})
}

// writeMissingParam renders the INVALID_ARGUMENT failure for an absent query
// variable.
func writeMissingParam(w http.ResponseWriter, name string) {
	writeFailure(w, http.StatusBadRequest, engine.KindInvalidArgument,
		"query variable "+name+" not defined")
}

// ─── Health ───────────────────────────────────────────────────────────────────

var startTime = time.Now()

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResp{
		Status:   "ok",
		InFlight: h.engine.Stats().InFlight,
		Uptime:   time.Since(startTime).Round(time.Second).String(),
		Version:  "1.0.0",
	})
}

// ─── Queue operations ─────────────────────────────────────────────────────────

func (h *Handler) createQueue(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("queue_name")
	if name == "" {
		writeMissingParam(w, "queue_name")
		return
	}
	if err := h.engine.CreateQueue(r.Context(), name); err != nil {
		writeEngineError(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) writeMessage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("queue_name")
	if name == "" {
		writeMissingParam(w, "queue_name")
		return
	}
	// message_value must be present but may be empty.
	if !q.Has("message_value") {
		writeMissingParam(w, "message_value")
		return
	}

	id, err := h.engine.WriteMessage(r.Context(), name, q.Get("message_value"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeSuccess(w, writeMessageData{MessageID: id})
}

func (h *Handler) pollQueue(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("queue_name")
	if name == "" {
		writeMissingParam(w, "queue_name")
		return
	}
	res, err := h.engine.PollQueue(r.Context(), name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeSuccess(w, res)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("message_id")
	if id == "" {
		writeMissingParam(w, "message_id")
		return
	}
	if err := h.engine.DeleteMessage(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) purgeQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.PurgeQueue(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	writeSuccess(w, nil)
}
