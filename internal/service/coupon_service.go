package service

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"connectrpc.com/connect"

	"github.com/kkkkikiki/couponhub/internal/api"
	"github.com/kkkkikiki/couponhub/internal/apperrors"
	"github.com/kkkkikiki/couponhub/internal/model"
)

// RejectReasonHeader carries the reason code of a rejected redemption on
// RPC errors.
const RejectReasonHeader = "Coupon-Reject-Reason"

// CouponServer implements the coupon service
type CouponServer struct {
	registry    *CampaignRegistry
	issuer      *BatchIssuer
	coordinator *RedemptionCoordinator
	stats       *StatsAggregator
	logger      *slog.Logger
}

// NewCouponServer creates a new CouponServer instance
func NewCouponServer(
	registry *CampaignRegistry,
	issuer *BatchIssuer,
	coordinator *RedemptionCoordinator,
	stats *StatsAggregator,
	logger *slog.Logger,
) *CouponServer {
	return &CouponServer{
		registry:    registry,
		issuer:      issuer,
		coordinator: coordinator,
		stats:       stats,
		logger:      logger,
	}
}

var _ api.CouponServiceHandler = (*CouponServer)(nil)

// CreateCampaign creates a new coupon campaign
func (s *CouponServer) CreateCampaign(
	ctx context.Context,
	req *connect.Request[api.CreateCampaignRequest],
) (*connect.Response[api.CreateCampaignResponse], error) {
	campaign, err := s.registry.CreateCampaign(ctx, CampaignInputFrom(req.Msg))
	if err != nil {
		return nil, s.connectError(ctx, err)
	}

	return connect.NewResponse(&api.CreateCampaignResponse{Campaign: campaign}), nil
}

// RequestGeneration queues a batch of coupons for generation
func (s *CouponServer) RequestGeneration(
	ctx context.Context,
	req *connect.Request[api.RequestGenerationRequest],
) (*connect.Response[api.RequestGenerationResponse], error) {
	accepted, err := s.issuer.RequestGeneration(ctx, &GenerationInput{
		CampaignID:     req.Msg.CampaignID,
		Prefix:         req.Msg.Prefix,
		Amount:         req.Msg.Amount,
		ExpirationDate: req.Msg.ExpirationDate,
		RequestedBy:    req.Msg.RequestedBy,
	})
	if err != nil {
		return nil, s.connectError(ctx, err)
	}

	return connect.NewResponse(accepted.Response()), nil
}

// GetGenerationRequest returns the durable state of a generation request
func (s *CouponServer) GetGenerationRequest(
	ctx context.Context,
	req *connect.Request[api.GetGenerationRequestRequest],
) (*connect.Response[api.GetGenerationRequestResponse], error) {
	genReq, err := s.issuer.GetGenerationRequest(ctx, req.Msg.RequestID)
	if err != nil {
		return nil, s.connectError(ctx, err)
	}

	return connect.NewResponse(&api.GetGenerationRequestResponse{Request: genReq}), nil
}

// ListBatchCodes returns one page of the codes a request generated
func (s *CouponServer) ListBatchCodes(
	ctx context.Context,
	req *connect.Request[api.ListBatchCodesRequest],
) (*connect.Response[api.ListBatchCodesResponse], error) {
	page, err := s.issuer.ListBatchCodes(ctx, req.Msg.RequestID, req.Msg.Limit, req.Msg.Offset)
	if err != nil {
		return nil, s.connectError(ctx, err)
	}

	return connect.NewResponse(page.Response()), nil
}

// RedeemCoupon redeems a coupon. A rejected redemption is returned as an
// error whose RejectReasonHeader metadata holds the reason code.
func (s *CouponServer) RedeemCoupon(
	ctx context.Context,
	req *connect.Request[api.RedeemCouponRequest],
) (*connect.Response[api.RedeemCouponResponse], error) {
	res, err := s.coordinator.Redeem(ctx, &RedeemInput{
		CouponCode: req.Msg.CouponCode,
		UserID:     req.Msg.UserID,
		IPAddress:  peerIP(req.Peer().Addr),
		UserAgent:  req.Header().Get("User-Agent"),
	})
	if err != nil {
		return nil, s.connectError(ctx, err)
	}

	if !res.Success {
		connectErr := connect.NewError(rejectCode(res.Reason), errors.New(res.Message))
		connectErr.Meta().Set(RejectReasonHeader, string(res.Reason))
		return nil, connectErr
	}

	return connect.NewResponse(res.Response()), nil
}

// GetCouponStatus returns the current state of a coupon
func (s *CouponServer) GetCouponStatus(
	ctx context.Context,
	req *connect.Request[api.GetCouponStatusRequest],
) (*connect.Response[api.CouponStatusResponse], error) {
	status, err := s.coordinator.GetStatus(ctx, req.Msg.CouponCode)
	if err != nil {
		return nil, s.connectError(ctx, err)
	}

	return connect.NewResponse(status.Response()), nil
}

// GetCampaignStats returns best-effort campaign counters. It never fails.
func (s *CouponServer) GetCampaignStats(
	ctx context.Context,
	req *connect.Request[api.GetCampaignStatsRequest],
) (*connect.Response[api.CampaignStatsResponse], error) {
	return connect.NewResponse(s.stats.GetStats(ctx, req.Msg.CampaignID).Response()), nil
}

// connectError maps an application error onto a connect status. Internal
// details are logged and never returned.
func (s *CouponServer) connectError(ctx context.Context, err error) error {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal(err)
	}

	var code connect.Code
	switch appErr.Kind {
	case apperrors.KindValidation:
		code = connect.CodeInvalidArgument
	case apperrors.KindNotFound:
		code = connect.CodeNotFound
	case apperrors.KindConflict:
		code = connect.CodeAlreadyExists
	case apperrors.KindTransient:
		code = connect.CodeUnavailable
	default:
		code = connect.CodeInternal
		s.logger.ErrorContext(ctx, "rpc failed", slog.String("error", err.Error()))
	}

	connectErr := connect.NewError(code, errors.New(appErr.Message))
	connectErr.Meta().Set("Error-Code", appErr.Code)
	return connectErr
}

func rejectCode(reason model.RejectReason) connect.Code {
	switch reason {
	case model.ReasonNotFound:
		return connect.CodeNotFound
	case model.ReasonCampaignExhausted, model.ReasonUserLimitReached:
		return connect.CodeResourceExhausted
	case model.ReasonNotAssignedToUser:
		return connect.CodePermissionDenied
	default:
		return connect.CodeFailedPrecondition
	}
}

func peerIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// CampaignInputFrom converts a create campaign request into registry input.
func CampaignInputFrom(req *api.CreateCampaignRequest) *CreateCampaignInput {
	return &CreateCampaignInput{
		CampaignID:            req.CampaignID,
		Name:                  req.Name,
		Description:           req.Description,
		StartDate:             req.StartDate,
		EndDate:               req.EndDate,
		DiscountPercentage:    req.DiscountPercentage,
		DiscountAmount:        req.DiscountAmount,
		MaxRedemptionsPerUser: req.MaxRedemptionsPerUser,
		MaxTotalRedemptions:   req.MaxTotalRedemptions,
		CreatedBy:             req.CreatedBy,
	}
}

// Response converts the result into its wire form.
func (r *RedeemResult) Response() *api.RedeemCouponResponse {
	resp := &api.RedeemCouponResponse{
		Success:    r.Success,
		CouponCode: r.CouponCode,
		CampaignID: r.CampaignID,
		RedeemedAt: r.RedeemedAt,
		Message:    r.Message,
	}
	if !r.Success {
		resp.Error = string(r.Reason)
	}
	if r.Discount != nil {
		value := r.Discount.Value
		resp.Discount = &value
		resp.DiscountType = string(r.Discount.Type)
	}
	return resp
}

func (a *GenerationAccepted) Response() *api.RequestGenerationResponse {
	return &api.RequestGenerationResponse{
		RequestID:               a.Request.RequestID,
		CampaignID:              a.Request.CampaignID,
		Status:                  a.Request.Status,
		EstimatedCompletionTime: a.EstimatedCompletionTime,
	}
}

func (b *BatchCodes) Response() *api.ListBatchCodesResponse {
	return &api.ListBatchCodesResponse{
		RequestID: b.RequestID,
		BatchID:   b.BatchID,
		Codes:     b.Codes,
		Limit:     b.Limit,
		Offset:    b.Offset,
	}
}

func (s *CouponStatus) Response() *api.CouponStatusResponse {
	return &api.CouponStatusResponse{
		CouponCode: s.CouponCode,
		Valid:      s.Valid,
		Redeemed:   s.Redeemed,
		RedeemedAt: s.RedeemedAt,
		ExpiresAt:  s.ExpiresAt,
		CampaignID: s.CampaignID,
		AssignedTo: s.AssignedTo,
	}
}

func (s *CampaignStats) Response() *api.CampaignStatsResponse {
	return &api.CampaignStatsResponse{
		CampaignID:     s.CampaignID,
		TotalGenerated: s.TotalGenerated,
		TotalUsed:      s.TotalUsed,
		TotalAvailable: s.TotalAvailable,
	}
}
