package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"epub-converter-service/internal/entity"
	"epub-converter-service/internal/pipeline"
	"epub-converter-service/internal/progress"
	"epub-converter-service/internal/service"
	"epub-converter-service/internal/usage"
)

// ownerHeader carries the authenticated owner id; authentication itself is
// handled upstream of this service.
const ownerHeader = "X-Owner-ID"

type Handler struct {
	svc        *service.ConversionService
	progress   *progress.Reader
	usage      *usage.Tracker
	stageNames []string
}

func NewHandler(svc *service.ConversionService, progressReader *progress.Reader, tracker *usage.Tracker, stageNames []string) *Handler {
	return &Handler{
		svc:        svc,
		progress:   progressReader,
		usage:      tracker,
		stageNames: stageNames,
	}
}

type createConversionDTO struct {
	SourceURL   string `json:"source_url"`
	ContentType string `json:"content_type,omitempty"`
}

type createConversionResp struct {
	ID string `json:"id"`
}

type conversionResp struct {
	ID           string           `json:"id"`
	Status       entity.JobStatus `json:"status"`
	CurrentStage *string          `json:"current_stage,omitempty"`
	FailureStage string           `json:"failure_stage,omitempty"`
	FailureText  string           `json:"failure,omitempty"`
	EPUBRef      string           `json:"epub_ref,omitempty"`
	CreatedAt    string           `json:"created_at"`
	UpdatedAt    string           `json:"updated_at"`
}

// CreateConversion godoc
// @Summary Start a PDF to EPUB conversion
// @Description Accepts the job (counts it against the owner's monthly quota) and enqueues it.
// @Tags conversions
// @Accept json
// @Produce json
// @Param X-Owner-ID header string true "owner id"
// @Param request body createConversionDTO true "conversion payload"
// @Success 201 {object} createConversionResp
// @Failure 400 {object} apiError
// @Failure 429 {object} apiError
// @Router /conversions [post]
func (h *Handler) CreateConversion(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		writeErr(w, http.StatusBadRequest, "missing "+ownerHeader+" header")
		return
	}

	var dto createConversionDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.svc.CreateConversion(r.Context(), service.CreateConversionRequest{
		OwnerID:     ownerID,
		SourceURL:   dto.SourceURL,
		ContentType: dto.ContentType,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrQuotaExceeded):
			writeErr(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, service.ErrSourceRequired), errors.Is(err, service.ErrUnsupportedType):
			writeErr(w, http.StatusBadRequest, err.Error())
		default:
			writeErr(w, http.StatusInternalServerError, "could not accept conversion")
		}
		return
	}

	writeJSON(w, http.StatusCreated, createConversionResp{ID: id.String()})
}

// GetConversion godoc
// @Summary Get conversion job by id
// @Tags conversions
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} conversionResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /conversions/{id} [get]
func (h *Handler) GetConversion(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	resp := conversionResp{
		ID:           job.ID.String(),
		Status:       job.Status,
		CurrentStage: job.CurrentStage,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
	if job.Failure != nil {
		resp.FailureStage = job.Failure.Stage
		resp.FailureText = job.Failure.Category
	}
	if job.Status == entity.StatusCompleted {
		if raw, ok := job.StageOutput(pipeline.StagePackage); ok {
			var out pipeline.PackageOutput
			if err := json.Unmarshal(raw, &out); err == nil {
				resp.EPUBRef = out.EPUBRef
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetProgress godoc
// @Summary Poll conversion progress
// @Description Served from the progress cache; falls back to the job record when the cache has no entry.
// @Tags conversions
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.ProgressSnapshot
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /conversions/{id}/progress [get]
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	snap, err := h.progress.Get(r.Context(), id)
	if err != nil {
		// cache miss or cache outage: degrade to the durable record
		job, jerr := h.svc.GetJob(r.Context(), id)
		if jerr != nil {
			writeErr(w, http.StatusNotFound, "conversion not found")
			return
		}
		snap = progress.Derive(job, h.stageNames)
	}

	writeJSON(w, http.StatusOK, snap)
}

// GetResult godoc
// @Summary Get the packaged EPUB reference
// @Tags conversions
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} pipeline.PackageOutput
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /conversions/{id}/result [get]
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != entity.StatusCompleted {
		writeErr(w, http.StatusConflict, "conversion not completed")
		return
	}

	raw, ok := job.StageOutput(pipeline.StagePackage)
	if !ok {
		writeErr(w, http.StatusConflict, "conversion not completed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// CancelConversion godoc
// @Summary Cancel a running conversion
// @Description Cancellation is cooperative: it takes effect at the next stage boundary.
// @Tags conversions
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 202 {object} apiError
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /conversions/{id} [delete]
func (h *Handler) CancelConversion(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.svc.CancelConversion(r.Context(), id); err != nil {
		writeErr(w, http.StatusNotFound, "conversion not found or already finished")
		return
	}
	writeJSON(w, http.StatusAccepted, apiError{Message: "cancellation requested"})
}

// GetUsage godoc
// @Summary Get the owner's usage for the current billing period
// @Tags usage
// @Produce json
// @Param X-Owner-ID header string true "owner id"
// @Success 200 {object} entity.UsageSnapshot
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /usage [get]
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		writeErr(w, http.StatusBadRequest, "missing "+ownerHeader+" header")
		return
	}

	snap, err := h.usage.Get(r.Context(), ownerID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "usage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) loadJob(w http.ResponseWriter, r *http.Request) (*entity.Job, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}

	job, err := h.svc.GetJob(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "conversion not found")
		return nil, false
	}
	return job, true
}
