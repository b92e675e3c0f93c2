package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/rjlee/actual-landg-pension/internal/api/middleware"
	"github.com/rjlee/actual-landg-pension/internal/jobs"
	"github.com/rjlee/actual-landg-pension/internal/login"
)

// LandgHandler exposes the portal login session.
type LandgHandler struct {
	coord     *login.Coordinator
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewLandgHandler creates a new portal login handler.
func NewLandgHandler(coord *login.Coordinator, publisher jobs.Publisher, log zerolog.Logger) *LandgHandler {
	return &LandgHandler{
		coord:     coord,
		publisher: publisher,
		log:       log,
	}
}

// StartLogin handles POST /api/landg/login. The attempt runs on the job
// queue; the response carries the status at the time of the request.
func (h *LandgHandler) StartLogin(w http.ResponseWriter, r *http.Request) {
	job := &jobs.Job{Type: jobs.JobTypeLogin, Trigger: "api"}
	if err := h.publisher.Publish(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue login job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to start login")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Msg("Login job enqueued")

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": h.coord.Status().Status,
		"job_id": job.JobID,
	})
}

// SubmitCode handles POST /api/landg/2fa
func (h *LandgHandler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.coord.SubmitCode(req.Code)
	h.log.Info().Msg("2FA code submitted")

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": h.coord.Status().Status,
	})
}

// Status handles GET /api/landg/status
func (h *LandgHandler) Status(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.coord.Status())
}
