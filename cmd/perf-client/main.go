package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/couponhub/internal/api"
	"github.com/kkkkikiki/couponhub/internal/model"
	"github.com/kkkkikiki/couponhub/internal/service"
)

// PerfResult gathers aggregated metrics for the test run.
// Atomic counters are used to avoid lock‑contention on hot paths.
// LatencySum & P95Latency are in nanoseconds.
//
// P95Latency is maintained via a lightweight reservoir sampler.
type PerfResult struct {
	TotalRequests int64
	SuccessCount  int64
	RejectCount   int64
	ErrorCount    int64
	LatencySum    int64
	P95Latency    int64
}

const (
	fixedWorkers   = 50
	fixedRPSTarget = 700
	fixedDuration  = 30 * time.Second
	defaultTimeout = 30 * time.Second
	fixedCoupons   = 20000
	pageSize       = 1000

	// Every replayEvery-th request redeems a code that was already used.
	replayEvery = 10
)

func main() {
	baseURL := os.Getenv("COUPON_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	rps := fixedRPSTarget
	duration := fixedDuration
	workers := fixedWorkers

	// ─── HTTP Client & Transport ─────────────────────────────────
	transport := &http.Transport{
		MaxIdleConns:        workers * 4,
		MaxIdleConnsPerHost: workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}
	client := api.NewCouponServiceClient(httpClient, baseURL)

	// ─── Campaign & codes ───────────────────────────────────────
	campaignID, codes, err := prepare(client, fixedCoupons)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("campaign %s ready with %d codes\n", campaignID, len(codes))

	// ─── Banner ──────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("coupon redemption load test (uniform)")
	fmt.Println("==========================================")
	fmt.Printf("campaign : %s\n", campaignID)
	fmt.Printf("RPS      : %d\n", rps)
	fmt.Printf("duration : %v\n", duration)
	fmt.Println("==========================================")

	// ─── Rate limiter & context ─────────────────────────────────
	burst := rps / workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var result PerfResult
	var wg sync.WaitGroup
	var next int64

	// latencyChan collects latencies for P95 estimation.
	latencyChan := make(chan time.Duration, 4096)
	tracked := make(chan struct{})
	go func() {
		trackP95(latencyChan, &result)
		close(tracked)
	}()

	// ─── Workers ────────────────────────────────────────────────
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil { // context cancelled → exit
					return
				}
				n := atomic.AddInt64(&next, 1) - 1
				code, ok := pick(codes, n)
				if !ok {
					cancel()
					return
				}
				doRequest(client, code, fmt.Sprintf("perf-user-%d", n), &result, latencyChan)
			}
		}()
	}

	start := time.Now()
	<-ctx.Done() // wait for duration or until the codes run out

	// ─── Cleanup ────────────────────────────────────────────────
	wg.Wait()
	close(latencyChan)
	<-tracked

	totalDur := time.Since(start)

	// ─── Report ─────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("results")
	fmt.Println("==========================================")
	fmt.Printf("elapsed          : %.2fs\n", totalDur.Seconds())
	fmt.Printf("total requests   : %d\n", result.TotalRequests)
	fmt.Printf("redeemed         : %d\n", result.SuccessCount)
	fmt.Printf("rejected         : %d\n", result.RejectCount)
	fmt.Printf("errors           : %d\n", result.ErrorCount)

	var actualRPS, successRate float64
	if totalDur > 0 {
		actualRPS = float64(result.TotalRequests) / totalDur.Seconds()
	}
	if result.TotalRequests > 0 {
		successRate = float64(result.SuccessCount) / float64(result.TotalRequests) * 100
	}

	var avgLatency time.Duration
	if answered := result.SuccessCount + result.RejectCount; answered > 0 {
		avgLatency = time.Duration(result.LatencySum / answered)
	}

	fmt.Printf("actual RPS       : %.2f\n", actualRPS)
	fmt.Printf("success rate     : %.2f%%\n", successRate)
	fmt.Printf("avg latency      : %v\n", avgLatency)
	fmt.Printf("P95 latency      : %v\n", time.Duration(result.P95Latency))
	fmt.Println("==========================================")

	// ─── Data Consistency Check ─────────────────────────────────
	fmt.Println("consistency check")
	fmt.Println("==========================================")

	if err := verifyDataConsistency(client, campaignID, result.SuccessCount, len(codes)); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		fmt.Println("==========================================")
		os.Exit(1)
	}
	fmt.Println("OK: every success was counted exactly once")
	fmt.Println("==========================================")
}

// pick returns the code for request n. Replayed requests reuse an earlier
// code so the run also exercises double redemption.
func pick(codes []string, n int64) (string, bool) {
	if n > 0 && n%replayEvery == 0 {
		return codes[(n/replayEvery)%int64(len(codes))], true
	}
	fresh := n - n/replayEvery
	if fresh >= int64(len(codes)) {
		return "", false
	}
	return codes[fresh], true
}

// prepare creates a campaign, generates coupons for it and collects the codes.
func prepare(client *api.CouponServiceClient, coupons int) (string, []string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	campaignID := fmt.Sprintf("perf-%d", time.Now().Unix())
	now := time.Now().UTC()
	if _, err := client.CreateCampaign(ctx, connect.NewRequest(&api.CreateCampaignRequest{
		CampaignID: campaignID,
		Name:       "load test",
		StartDate:  now.Add(-time.Minute),
		EndDate:    now.Add(24 * time.Hour),
	})); err != nil {
		return "", nil, fmt.Errorf("create campaign: %w", err)
	}

	accepted, err := client.RequestGeneration(ctx, connect.NewRequest(&api.RequestGenerationRequest{
		CampaignID:  campaignID,
		Prefix:      "PERF",
		Amount:      coupons,
		RequestedBy: "perf-client",
	}))
	if err != nil {
		return "", nil, fmt.Errorf("request generation: %w", err)
	}
	requestID := accepted.Msg.RequestID

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		resp, err := client.GetGenerationRequest(ctx, connect.NewRequest(&api.GetGenerationRequestRequest{RequestID: requestID}))
		if err != nil {
			return "", nil, fmt.Errorf("poll generation: %w", err)
		}
		req := resp.Msg.Request
		if req.Status == model.GenerationFailed {
			reason := ""
			if req.FailureReason != nil {
				reason = *req.FailureReason
			}
			return "", nil, fmt.Errorf("generation failed: %s", reason)
		}
		if req.Status == model.GenerationCompleted {
			break
		}
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-ticker.C:
		}
	}

	codes := make([]string, 0, coupons)
	for offset := 0; ; offset += pageSize {
		resp, err := client.ListBatchCodes(ctx, connect.NewRequest(&api.ListBatchCodesRequest{
			RequestID: requestID,
			Limit:     pageSize,
			Offset:    offset,
		}))
		if err != nil {
			return "", nil, fmt.Errorf("list codes: %w", err)
		}
		codes = append(codes, resp.Msg.Codes...)
		if len(resp.Msg.Codes) < pageSize {
			break
		}
	}
	if len(codes) == 0 {
		return "", nil, errors.New("generation produced no codes")
	}

	return campaignID, codes, nil
}

// doRequest performs a single RedeemCoupon RPC and collects metrics.
func doRequest(client *api.CouponServiceClient, code, userID string, result *PerfResult, latencyChan chan<- time.Duration) {
	// Use independent context to avoid cancellation when test ends
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req := connect.NewRequest(&api.RedeemCouponRequest{CouponCode: code, UserID: userID})

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	_, err := client.RedeemCoupon(ctx, req)
	latency := time.Since(start)

	var connectErr *connect.Error
	switch {
	case err == nil:
		atomic.AddInt64(&result.SuccessCount, 1)
	case errors.As(err, &connectErr) && connectErr.Meta().Get(service.RejectReasonHeader) != "":
		atomic.AddInt64(&result.RejectCount, 1)
	default:
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}

	atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
	select {
	case latencyChan <- latency:
	default:
	}
}

// trackP95 maintains a best‑effort rolling P95 latency estimation.
func trackP95(latencies <-chan time.Duration, result *PerfResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else {
			// Replace random element (simple reservoir sampling)
			if idx := time.Now().UnixNano() % int64(size); idx < int64(size/10) {
				buf[idx] = lat.Nanoseconds()
			}
		}

		// Update P95 periodically
		if len(buf) >= 100 && len(buf)%100 == 0 {
			copyBuf := make([]int64, len(buf))
			copy(copyBuf, buf)
			quickSort(copyBuf)
			p95Index := int(float64(len(copyBuf)) * 0.95)
			if p95Index >= len(copyBuf) {
				p95Index = len(copyBuf) - 1
			}
			atomic.StoreInt64(&result.P95Latency, copyBuf[p95Index])
		}
	}
}

// quickSort sorts the array in ascending order
func quickSort(arr []int64) {
	if len(arr) < 2 {
		return
	}

	left, right := 0, len(arr)-1
	pivot := len(arr) / 2

	arr[pivot], arr[right] = arr[right], arr[pivot]

	for i := range arr {
		if arr[i] < arr[right] {
			arr[left], arr[i] = arr[i], arr[left]
			left++
		}
	}

	arr[left], arr[right] = arr[right], arr[left]

	quickSort(arr[:left])
	quickSort(arr[left+1:])
}

// verifyDataConsistency checks that the server counted exactly the
// redemptions the client saw succeed.
func verifyDataConsistency(client *api.CouponServiceClient, campaignID string, expectedUsed int64, generated int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.GetCampaignStats(ctx, connect.NewRequest(&api.GetCampaignStatsRequest{CampaignID: campaignID}))
	if err != nil {
		return fmt.Errorf("failed to get campaign stats: %w", err)
	}
	stats := resp.Msg

	fmt.Printf("campaign         : %s\n", campaignID)
	fmt.Printf("generated        : %d\n", stats.TotalGenerated)
	fmt.Printf("used (server)    : %d\n", stats.TotalUsed)
	fmt.Printf("used (client)    : %d\n", expectedUsed)
	fmt.Printf("available        : %d\n", stats.TotalAvailable)

	if int64(stats.TotalUsed) != expectedUsed {
		return fmt.Errorf("mismatch: server=%d, client=%d, diff=%d",
			stats.TotalUsed, expectedUsed, int64(stats.TotalUsed)-expectedUsed)
	}
	if stats.TotalGenerated != generated {
		return fmt.Errorf("generated mismatch: server=%d, listed=%d", stats.TotalGenerated, generated)
	}
	if stats.TotalUsed+stats.TotalAvailable != stats.TotalGenerated {
		return fmt.Errorf("used %d + available %d != generated %d",
			stats.TotalUsed, stats.TotalAvailable, stats.TotalGenerated)
	}

	return nil
}
