package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"job-status-stream/internal/entity"
	"job-status-stream/internal/service"
	"job-status-stream/internal/stream"
)

type Handler struct {
	statusSvc *service.StatusService
}

func NewHandler(statusSvc *service.StatusService) *Handler {
	return &Handler{statusSvc: statusSvc}
}

type subscribeDTO struct {
	JobID string `json:"jobId"`
}

type subscribeResp struct {
	ID    string `json:"id"`
	JobID string `json:"jobId"`
}

type subscriptionResp struct {
	ID             string                `json:"id"`
	JobID          string                `json:"jobId"`
	Active         bool                  `json:"active"`
	Connected      bool                  `json:"connected"`
	Status         entity.Status         `json:"status,omitempty"`
	ProcessingStep entity.ProcessingStep `json:"processingStep,omitempty"`
	Text           string                `json:"text"`
	VideoURL       string                `json:"videoUrl,omitempty"`
	Error          string                `json:"error,omitempty"`
}

type visibilityDTO struct {
	Visible *bool `json:"visible"`
}

type statusResp struct {
	JobID          string                `json:"jobId"`
	Status         entity.Status         `json:"status"`
	ProcessingStep entity.ProcessingStep `json:"processingStep,omitempty"`
	Text           string                `json:"text"`
	ErrorMessage   string                `json:"errorMessage,omitempty"`
	VideoURL       string                `json:"videoUrl,omitempty"`
	OccurredAt     string                `json:"occurredAt"`
}

func toStatusResp(u entity.StatusUpdate) statusResp {
	return statusResp{
		JobID:          string(u.JobID),
		Status:         u.Status,
		ProcessingStep: u.ProcessingStep,
		Text:           u.Text(),
		ErrorMessage:   u.ErrorMessage,
		VideoURL:       u.VideoURL,
		OccurredAt:     u.OccurredAt.Format(time.RFC3339),
	}
}

func toSubscriptionResp(v service.SubscriptionView) subscriptionResp {
	resp := subscriptionResp{
		ID:        v.ID.String(),
		JobID:     string(v.JobID),
		Active:    v.Active,
		Connected: v.Connected,
		Text:      "Pending",
	}
	if v.Update != nil {
		resp.Status = v.Update.Status
		resp.ProcessingStep = v.Update.ProcessingStep
		resp.Text = v.Update.Text()
		resp.VideoURL = v.Update.VideoURL
		if v.Update.ErrorMessage != "" {
			resp.Error = v.Update.ErrorMessage
		}
	}
	if v.Err != nil {
		resp.Error = v.Err.Error()
	}
	return resp
}

// Subscribe godoc
// @Summary Subscribe to a job's live status
// @Description Opens (or shares) the job's status stream. The first subscriber for a job opens the connection.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param request body subscribeDTO true "job to watch"
// @Success 201 {object} subscribeResp
// @Failure 400 {object} apiError
// @Failure 503 {object} apiError
// @Router /subscriptions [post]
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var dto subscribeDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.statusSvc.Subscribe(entity.JobID(dto.JobID), nil)
	switch {
	case errors.Is(err, service.ErrInvalidJobID):
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, stream.ErrClosed):
		writeErr(w, http.StatusServiceUnavailable, "shutting down")
		return
	case err != nil:
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	view, err := h.statusSvc.Subscription(id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, subscribeResp{ID: id.String(), JobID: string(view.JobID)})
}

// ListSubscriptions godoc
// @Summary List open subscriptions
// @Tags subscriptions
// @Produce json
// @Success 200 {array} subscriptionResp
// @Router /subscriptions [get]
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	views := h.statusSvc.Subscriptions()
	out := make([]subscriptionResp, 0, len(views))
	for _, v := range views {
		out = append(out, toSubscriptionResp(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSubscription godoc
// @Summary Get the current projection of a subscription
// @Tags subscriptions
// @Produce json
// @Param id path string true "subscription id (uuid)"
// @Success 200 {object} subscriptionResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /subscriptions/{id} [get]
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	view, err := h.statusSvc.Subscription(id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "subscription not found")
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResp(view))
}

// Unsubscribe godoc
// @Summary Drop a subscription
// @Description The job's connection closes when its last subscription is dropped. urgent=true notifies the backend immediately instead of batching.
// @Tags subscriptions
// @Param id path string true "subscription id (uuid)"
// @Param urgent query bool false "notify the backend immediately"
// @Success 204
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /subscriptions/{id} [delete]
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	urgent := false
	if raw := r.URL.Query().Get("urgent"); raw != "" {
		urgent, err = strconv.ParseBool(raw)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid urgent flag")
			return
		}
	}

	if err := h.statusSvc.Unsubscribe(id, urgent); err != nil {
		writeErr(w, http.StatusNotFound, "subscription not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetVisibility godoc
// @Summary Report page visibility
// @Description Hidden pages defer reconnects; becoming visible reconnects dropped streams.
// @Tags subscriptions
// @Accept json
// @Param request body visibilityDTO true "visibility"
// @Success 204
// @Failure 400 {object} apiError
// @Router /visibility [put]
func (h *Handler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var dto visibilityDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil || dto.Visible == nil {
		writeErr(w, http.StatusBadRequest, "visible is required")
		return
	}
	h.statusSvc.SetVisible(*dto.Visible)
	w.WriteHeader(http.StatusNoContent)
}

// GetJobStatus godoc
// @Summary Last known status of a job
// @Tags jobs
// @Produce json
// @Param id path string true "job id"
// @Success 200 {object} statusResp
// @Failure 404 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs/{id}/status [get]
func (h *Handler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	u, err := h.statusSvc.LastKnown(r.Context(), entity.JobID(chi.URLParam(r, "id")))
	switch {
	case errors.Is(err, service.ErrStatusUnknown):
		writeErr(w, http.StatusNotFound, "status unknown")
		return
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("read last known status")
		writeErr(w, http.StatusInternalServerError, "status store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, toStatusResp(u))
}

// GetJobHistory godoc
// @Summary Recorded status history of a job
// @Tags jobs
// @Produce json
// @Param id path string true "job id"
// @Param limit query int false "max rows (default 100)"
// @Success 200 {array} statusResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 500 {object} apiError
// @Failure 501 {object} apiError
// @Router /jobs/{id}/history [get]
func (h *Handler) GetJobHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	rows, err := h.statusSvc.History(r.Context(), entity.JobID(chi.URLParam(r, "id")), limit)
	switch {
	case errors.Is(err, service.ErrHistoryUnavailable):
		writeErr(w, http.StatusNotImplemented, err.Error())
		return
	case errors.Is(err, service.ErrStatusUnknown):
		writeErr(w, http.StatusNotFound, "no history")
		return
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("read status history")
		writeErr(w, http.StatusInternalServerError, "status store unavailable")
		return
	}

	out := make([]statusResp, 0, len(rows))
	for _, u := range rows {
		out = append(out, toStatusResp(u))
	}
	writeJSON(w, http.StatusOK, out)
}
