package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumamail/pipeline/internal/pkg/logger"
	"github.com/lumamail/pipeline/internal/schedule"
	"github.com/lumamail/pipeline/internal/service/campaign"
	"github.com/lumamail/pipeline/internal/stats"
)

// Handlers carries the service dependencies for the REST endpoints.
type Handlers struct {
	campaigns *campaign.Service
	stats     *stats.Aggregator
	log       *logger.Logger
}

func NewHandlers(campaigns *campaign.Service, aggregator *stats.Aggregator) *Handlers {
	return &Handlers{
		campaigns: campaigns,
		stats:     aggregator,
		log:       logger.With("API"),
	}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateCampaign handles POST /api/v1/campaigns.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	c, err := h.campaigns.Create(r.Context(), input)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// GetCampaign handles GET /api/v1/campaigns/{campaignID}.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			respondError(w, http.StatusNotFound, "campaign not found")
			return
		}
		h.log.Error("get campaign", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ListCampaigns handles GET /api/v1/campaigns?account_id=...
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	f := campaign.ListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  intParam(r, "limit", 50),
		Offset: intParam(r, "offset", 0),
	}

	campaigns, total, err := h.campaigns.List(r.Context(), accountID, f)
	if err != nil {
		h.log.Error("list campaigns", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"total":     total,
	})
}

// ScheduleCampaign handles POST /api/v1/campaigns/{campaignID}/schedule.
func (h *Handlers) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.ScheduleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	id := chi.URLParam(r, "campaignID")
	n, err := h.campaigns.Schedule(r.Context(), id, input)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"campaign_id": id,
			"items":       n,
		})
	case errors.Is(err, campaign.ErrNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, schedule.ErrInvalidSchedule):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, campaign.ErrAlreadyScheduled):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("schedule campaign", "campaign", id, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// CancelCampaign handles POST /api/v1/campaigns/{campaignID}/cancel.
func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	removed, err := h.campaigns.Cancel(r.Context(), id)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"campaign_id":   id,
			"removed_items": removed,
		})
	case errors.Is(err, campaign.ErrNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, campaign.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "campaign is not scheduled")
	default:
		h.log.Error("cancel campaign", "campaign", id, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// CampaignStats handles GET /api/v1/campaigns/{campaignID}/stats.
// Window defaults to the trailing 30 days; from/to accept YYYY-MM-DD.
func (h *Handlers) CampaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	window := stats.Window{
		From: time.Now().UTC().AddDate(0, 0, -30),
		To:   time.Now().UTC(),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		window.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		window.To = t
	}

	st, err := h.stats.StatsFor(r.Context(), id, window)
	if err != nil {
		h.log.Error("campaign stats", "campaign", id, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
