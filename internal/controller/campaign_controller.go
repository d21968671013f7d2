// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-segments/internal/handler"
	"github.com/unclebandit/smsleopard-segments/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Logger          *zap.Logger
}

func badRequest(w http.ResponseWriter, msg string) {
	handler.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (c *CampaignController) PreviewAudience(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rules json.RawMessage `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if len(body.Rules) == 0 || string(body.Rules) == "null" {
		badRequest(w, "Rules are required")
		return
	}

	preview, err := c.CampaignService.PreviewAudience(r.Context(), body.Rules)
	if err != nil {
		handler.WriteError(w, c.Logger, err, "Failed to preview audience")
		return
	}
	handler.WriteJSON(w, http.StatusOK, preview)
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	campaign, err := c.CampaignService.LaunchCampaign(r.Context(), body)
	if err != nil {
		handler.WriteError(w, c.Logger, err, "Failed to create campaign")
		return
	}
	handler.WriteJSON(w, http.StatusCreated, map[string]any{
		"message":  "Campaign created and launched successfully",
		"campaign": campaign,
	})
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		handler.WriteError(w, c.Logger, err, "Failed to fetch campaigns")
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, "invalid campaign id")
		return
	}

	details, err := c.CampaignService.GetCampaignDetails(r.Context(), id)
	if err != nil {
		handler.WriteError(w, c.Logger, err, "Failed to fetch campaign")
		return
	}
	handler.WriteJSON(w, http.StatusOK, details)
}

// PersonalizedPreview renders a template for one customer.
func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomerID int64  `json:"customer_id"`
		Message    string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	rendered, err := c.CampaignService.RenderPreview(r.Context(), body.Message, body.CustomerID)
	if err != nil {
		handler.WriteError(w, c.Logger, err, "Failed to render preview")
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"rendered_message": rendered,
		"customer_id":      body.CustomerID,
	})
}
