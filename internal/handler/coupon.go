package handler

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kkkkikiki/couponhub/internal/api"
	"github.com/kkkkikiki/couponhub/internal/apperrors"
	"github.com/kkkkikiki/couponhub/internal/model"
	"github.com/kkkkikiki/couponhub/internal/service"
)

// CouponHandler handles HTTP requests for campaign, generation and
// redemption endpoints.
type CouponHandler struct {
	registry    *service.CampaignRegistry
	issuer      *service.BatchIssuer
	coordinator *service.RedemptionCoordinator
	stats       *service.StatsAggregator
	logger      *slog.Logger
}

// NewCouponHandler creates a new coupon HTTP handler.
func NewCouponHandler(
	registry *service.CampaignRegistry,
	issuer *service.BatchIssuer,
	coordinator *service.RedemptionCoordinator,
	stats *service.StatsAggregator,
	logger *slog.Logger,
) *CouponHandler {
	return &CouponHandler{
		registry:    registry,
		issuer:      issuer,
		coordinator: coordinator,
		stats:       stats,
		logger:      logger,
	}
}

type discountResponse struct {
	CampaignID string          `json:"campaignId"`
	Discount   *model.Discount `json:"discount"`
}

// CreateCampaign handles POST /campaigns
func (h *CouponHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req api.CreateCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	campaign, err := h.registry.CreateCampaign(r.Context(), service.CampaignInputFrom(&req))
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

// GetCampaign handles GET /campaigns/{id}
func (h *CouponHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.registry.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

// DeactivateCampaign handles POST /campaigns/{id}/deactivate
func (h *CouponHandler) DeactivateCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.registry.DeactivateCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

// GetDiscount handles GET /campaigns/{id}/discount
func (h *CouponHandler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, discountResponse{
		CampaignID: id,
		Discount:   h.registry.GetDiscount(r.Context(), id),
	})
}

// RequestGeneration handles POST /campaigns/{id}/generate
func (h *CouponHandler) RequestGeneration(w http.ResponseWriter, r *http.Request) {
	var req api.RequestGenerationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	accepted, err := h.issuer.RequestGeneration(r.Context(), &service.GenerationInput{
		CampaignID:     chi.URLParam(r, "id"),
		Prefix:         req.Prefix,
		Amount:         req.Amount,
		ExpirationDate: req.ExpirationDate,
		RequestedBy:    req.RequestedBy,
	})
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusAccepted, accepted.Response())
}

// GetStats handles GET /campaigns/{id}/stats
func (h *CouponHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.GetStats(r.Context(), chi.URLParam(r, "id")).Response())
}

// GetGenerationRequest handles GET /generation-requests/{id}
func (h *CouponHandler) GetGenerationRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.issuer.GetGenerationRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// CancelGeneration handles POST /generation-requests/{id}/cancel
func (h *CouponHandler) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	req, err := h.issuer.CancelGeneration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusAccepted, req)
}

// ListBatchCodes handles GET /generation-requests/{id}/codes
func (h *CouponHandler) ListBatchCodes(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	page, err := h.issuer.ListBatchCodes(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, page.Response())
}

// Redeem handles POST /redeem. A rejected redemption is a 400 whose error
// field carries the reason code.
func (h *CouponHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req api.RedeemCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.coordinator.Redeem(r.Context(), &service.RedeemInput{
		CouponCode: req.CouponCode,
		UserID:     req.UserID,
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	if !res.Success {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   string(res.Reason),
			Message: res.Message,
		})
		return
	}

	writeJSON(w, http.StatusOK, res.Response())
}

// GetCouponStatus handles GET /coupon/{code}
func (h *CouponHandler) GetCouponStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.coordinator.GetStatus(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, status.Response())
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperrors.Validation(key+" must be an integer", map[string]string{key: "must be an integer"})
	}
	return n, nil
}

// clientIP returns the remote host. chi's RealIP middleware has already
// replaced RemoteAddr with the forwarded address when present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
