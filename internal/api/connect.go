package api

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// CouponServiceName is the fully-qualified name of the CouponService service.
const CouponServiceName = "coupon.v1.CouponService"

// These constants are the fully-qualified names of the RPCs defined in this
// package. They're exposed at runtime as Spec.Procedure and as the final two
// segments of the HTTP route.
const (
	CreateCampaignProcedure       = "/coupon.v1.CouponService/CreateCampaign"
	RequestGenerationProcedure    = "/coupon.v1.CouponService/RequestGeneration"
	GetGenerationRequestProcedure = "/coupon.v1.CouponService/GetGenerationRequest"
	ListBatchCodesProcedure       = "/coupon.v1.CouponService/ListBatchCodes"
	RedeemCouponProcedure         = "/coupon.v1.CouponService/RedeemCoupon"
	GetCouponStatusProcedure      = "/coupon.v1.CouponService/GetCouponStatus"
	GetCampaignStatsProcedure     = "/coupon.v1.CouponService/GetCampaignStats"
)

// CouponServiceHandler is implemented by the server side of the service.
type CouponServiceHandler interface {
	CreateCampaign(context.Context, *connect.Request[CreateCampaignRequest]) (*connect.Response[CreateCampaignResponse], error)
	RequestGeneration(context.Context, *connect.Request[RequestGenerationRequest]) (*connect.Response[RequestGenerationResponse], error)
	GetGenerationRequest(context.Context, *connect.Request[GetGenerationRequestRequest]) (*connect.Response[GetGenerationRequestResponse], error)
	ListBatchCodes(context.Context, *connect.Request[ListBatchCodesRequest]) (*connect.Response[ListBatchCodesResponse], error)
	RedeemCoupon(context.Context, *connect.Request[RedeemCouponRequest]) (*connect.Response[RedeemCouponResponse], error)
	GetCouponStatus(context.Context, *connect.Request[GetCouponStatusRequest]) (*connect.Response[CouponStatusResponse], error)
	GetCampaignStats(context.Context, *connect.Request[GetCampaignStatsRequest]) (*connect.Response[CampaignStatsResponse], error)
}

// NewCouponServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewCouponServiceHandler(svc CouponServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	createCampaignHandler := connect.NewUnaryHandler(CreateCampaignProcedure, svc.CreateCampaign, opts...)
	requestGenerationHandler := connect.NewUnaryHandler(RequestGenerationProcedure, svc.RequestGeneration, opts...)
	getGenerationRequestHandler := connect.NewUnaryHandler(GetGenerationRequestProcedure, svc.GetGenerationRequest, opts...)
	listBatchCodesHandler := connect.NewUnaryHandler(ListBatchCodesProcedure, svc.ListBatchCodes, opts...)
	redeemCouponHandler := connect.NewUnaryHandler(RedeemCouponProcedure, svc.RedeemCoupon, opts...)
	getCouponStatusHandler := connect.NewUnaryHandler(GetCouponStatusProcedure, svc.GetCouponStatus, opts...)
	getCampaignStatsHandler := connect.NewUnaryHandler(GetCampaignStatsProcedure, svc.GetCampaignStats, opts...)

	return "/" + CouponServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case CreateCampaignProcedure:
			createCampaignHandler.ServeHTTP(w, r)
		case RequestGenerationProcedure:
			requestGenerationHandler.ServeHTTP(w, r)
		case GetGenerationRequestProcedure:
			getGenerationRequestHandler.ServeHTTP(w, r)
		case ListBatchCodesProcedure:
			listBatchCodesHandler.ServeHTTP(w, r)
		case RedeemCouponProcedure:
			redeemCouponHandler.ServeHTTP(w, r)
		case GetCouponStatusProcedure:
			getCouponStatusHandler.ServeHTTP(w, r)
		case GetCampaignStatsProcedure:
			getCampaignStatsHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// CouponServiceClient is a client for the coupon.v1.CouponService service.
type CouponServiceClient struct {
	createCampaign       *connect.Client[CreateCampaignRequest, CreateCampaignResponse]
	requestGeneration    *connect.Client[RequestGenerationRequest, RequestGenerationResponse]
	getGenerationRequest *connect.Client[GetGenerationRequestRequest, GetGenerationRequestResponse]
	listBatchCodes       *connect.Client[ListBatchCodesRequest, ListBatchCodesResponse]
	redeemCoupon         *connect.Client[RedeemCouponRequest, RedeemCouponResponse]
	getCouponStatus      *connect.Client[GetCouponStatusRequest, CouponStatusResponse]
	getCampaignStats     *connect.Client[GetCampaignStatsRequest, CampaignStatsResponse]
}

// NewCouponServiceClient constructs a client for the coupon.v1.CouponService
// service. The URL supplied should be the base URL for the server (for
// example, http://api.acme.com or https://acme.com/grpc).
func NewCouponServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *CouponServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)

	return &CouponServiceClient{
		createCampaign: connect.NewClient[CreateCampaignRequest, CreateCampaignResponse](
			httpClient, baseURL+CreateCampaignProcedure, opts...),
		requestGeneration: connect.NewClient[RequestGenerationRequest, RequestGenerationResponse](
			httpClient, baseURL+RequestGenerationProcedure, opts...),
		getGenerationRequest: connect.NewClient[GetGenerationRequestRequest, GetGenerationRequestResponse](
			httpClient, baseURL+GetGenerationRequestProcedure, opts...),
		listBatchCodes: connect.NewClient[ListBatchCodesRequest, ListBatchCodesResponse](
			httpClient, baseURL+ListBatchCodesProcedure, opts...),
		redeemCoupon: connect.NewClient[RedeemCouponRequest, RedeemCouponResponse](
			httpClient, baseURL+RedeemCouponProcedure, opts...),
		getCouponStatus: connect.NewClient[GetCouponStatusRequest, CouponStatusResponse](
			httpClient, baseURL+GetCouponStatusProcedure, opts...),
		getCampaignStats: connect.NewClient[GetCampaignStatsRequest, CampaignStatsResponse](
			httpClient, baseURL+GetCampaignStatsProcedure, opts...),
	}
}

func (c *CouponServiceClient) CreateCampaign(ctx context.Context, req *connect.Request[CreateCampaignRequest]) (*connect.Response[CreateCampaignResponse], error) {
	return c.createCampaign.CallUnary(ctx, req)
}

func (c *CouponServiceClient) RequestGeneration(ctx context.Context, req *connect.Request[RequestGenerationRequest]) (*connect.Response[RequestGenerationResponse], error) {
	return c.requestGeneration.CallUnary(ctx, req)
}

func (c *CouponServiceClient) GetGenerationRequest(ctx context.Context, req *connect.Request[GetGenerationRequestRequest]) (*connect.Response[GetGenerationRequestResponse], error) {
	return c.getGenerationRequest.CallUnary(ctx, req)
}

func (c *CouponServiceClient) ListBatchCodes(ctx context.Context, req *connect.Request[ListBatchCodesRequest]) (*connect.Response[ListBatchCodesResponse], error) {
	return c.listBatchCodes.CallUnary(ctx, req)
}

func (c *CouponServiceClient) RedeemCoupon(ctx context.Context, req *connect.Request[RedeemCouponRequest]) (*connect.Response[RedeemCouponResponse], error) {
	return c.redeemCoupon.CallUnary(ctx, req)
}

func (c *CouponServiceClient) GetCouponStatus(ctx context.Context, req *connect.Request[GetCouponStatusRequest]) (*connect.Response[CouponStatusResponse], error) {
	return c.getCouponStatus.CallUnary(ctx, req)
}

func (c *CouponServiceClient) GetCampaignStats(ctx context.Context, req *connect.Request[GetCampaignStatsRequest]) (*connect.Response[CampaignStatsResponse], error) {
	return c.getCampaignStats.CallUnary(ctx, req)
}
