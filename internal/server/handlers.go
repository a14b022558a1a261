package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/skalene/maestro/internal/definitions"
	"github.com/skalene/maestro/internal/service"
	"github.com/skalene/maestro/internal/state"
	"github.com/skalene/maestro/internal/workflow"
	"github.com/skalene/maestro/pkg/models"
)

// executeRequest is the body of POST /execute and /execute/stream.
type executeRequest struct {
	Mission   string `json:"mission"`
	AgentID   string `json:"agent_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

func (r executeRequest) toMission(identity *models.Identity) service.MissionRequest {
	return service.MissionRequest{
		Mission:   r.Mission,
		AgentID:   r.AgentID,
		SessionID: r.SessionID,
		Mode:      service.Mode(r.Mode),
		Identity:  identity,
	}
}

type errorResponse struct {
	Error string           `json:"error"`
	Kind  models.ErrorKind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusForKind maps the error taxonomy onto HTTP statuses: caller
// mistakes are 4xx, everything else is a server error.
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindParamValidation, models.ErrKindResumeValidation, models.ErrKindUnknownTool:
		return http.StatusBadRequest
	case models.ErrKindNotApproved:
		return http.StatusForbidden
	case models.ErrKindHandleNotFound:
		return http.StatusNotFound
	case models.ErrKindVersionConflict, models.ErrKindPersistenceConflict:
		return http.StatusConflict
	case models.ErrKindBudgetExceeded:
		return http.StatusUnprocessableEntity
	case models.ErrKindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// statusForError maps sentinel errors from the lower layers.
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrEmptyMission), errors.Is(err, service.ErrEpicDisabled):
		return http.StatusBadRequest
	case errors.Is(err, definitions.ErrNotFound),
		errors.Is(err, state.ErrNotFound),
		errors.Is(err, workflow.ErrCheckpointNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrNotWaiting):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrPayloadInvalid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.executor.ExecuteMission(r.Context(), req.toMission(IdentityFrom(r.Context())))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	s.registerWaitGate(r, req.AgentID, result)

	status := http.StatusOK
	if result.Status == models.RunFailed {
		status = statusForKind(result.ErrorKind)
	}
	writeJSON(w, status, result)
}

func (s *Server) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	run, err := s.executor.ExecuteMissionStreaming(r.Context(), req.toMission(IdentityFrom(r.Context())))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range run.Events() {
		sendSSE(w, flusher, string(event.Type), event)
	}

	result, err := run.Wait(r.Context())
	if err != nil {
		sendSSE(w, flusher, "error", errorResponse{Error: err.Error()})
		return
	}
	s.registerWaitGate(r, req.AgentID, result)
	sendSSE(w, flusher, "result", result)
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// registerWaitGate turns a parked run into a resumable workflow
// checkpoint so inbound replies can address it.
func (s *Server) registerWaitGate(r *http.Request, agentID string, result *models.ExecutionResult) {
	if s.workflows == nil || result == nil || result.Status != models.RunWaitingExternal {
		return
	}

	question := ""
	if st, _, err := s.states.Load(r.Context(), result.SessionID); err == nil && st.PendingQuestion != nil {
		question = st.PendingQuestion.Question
	}
	cp := service.WaitCheckpoint(agentID, result.SessionID, question)
	if err := s.workflows.CreateCheckpoint(r.Context(), cp); err != nil {
		s.logger.Warn("registering wait-gate checkpoint", "session_id", result.SessionID, "error", err)
	}
}

type sessionListResponse struct {
	Sessions []string `json:"sessions"`
	Total    int      `json:"total"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.states.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sort.Strings(ids)
	total := len(ids)

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 0)
	if offset > len(ids) {
		offset = len(ids)
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: ids, Total: total})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st, _, err := s.states.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.states.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// waitRequest is the body of POST /workflows/wait.
type waitRequest struct {
	RunID          string                `json:"run_id"`
	NodeID         string                `json:"node_id"`
	State          json.RawMessage       `json:"state,omitempty"`
	RequiredInputs json.RawMessage       `json:"required_inputs,omitempty"`
	BlockingReason models.BlockingReason `json:"blocking_reason,omitempty"`

	// Recipient and Question, when present, dispatch the wait-gate
	// request through the gateway after the checkpoint is saved.
	Recipient string `json:"recipient,omitempty"`
	Question  string `json:"question,omitempty"`
}

func (s *Server) handleWorkflowWait(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		writeError(w, http.StatusNotImplemented, "workflow runtime not configured")
		return
	}
	var req waitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cp := &models.WorkflowCheckpoint{
		RunID:          req.RunID,
		NodeID:         req.NodeID,
		State:          req.State,
		RequiredInputs: req.RequiredInputs,
		BlockingReason: req.BlockingReason,
	}
	if err := s.workflows.CreateCheckpoint(r.Context(), cp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Recipient != "" {
		if err := s.workflows.SendRequest(r.Context(), req.RunID, req.Recipient, req.Question); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, cp)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		writeError(w, http.StatusNotImplemented, "workflow runtime not configured")
		return
	}
	cp, err := s.workflowStore.Get(r.Context(), r.PathValue("run_id"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// resumeRequest is the body of POST /workflows/{run_id}/resume.
type resumeRequest struct {
	Payload        json.RawMessage   `json:"payload"`
	SenderMetadata map[string]string `json:"sender_metadata,omitempty"`
}

func (s *Server) handleWorkflowResume(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		writeError(w, http.StatusNotImplemented, "workflow runtime not configured")
		return
	}
	var req resumeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := s.workflows.IngestResumeEvent(r.Context(), r.PathValue("run_id"), req.Payload, req.SenderMetadata)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	status := http.StatusOK
	if outcome.ValidationError != "" {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, outcome)
}

func (s *Server) handleWorkflowResumeAndContinue(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		writeError(w, http.StatusNotImplemented, "workflow runtime not configured")
		return
	}
	result, err := s.workflows.ResumeFromCheckpoint(r.Context(), r.PathValue("run_id"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
