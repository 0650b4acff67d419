package api

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// metrics accumulates process-wide request counters and latency
// histograms, grounded on the teacher's Handler.Metrics/bucketCounter
// pair but scoped to the dispatch core's own counters.
type metrics struct {
	requests      int64
	requestErrors int64
	requestNS     int64

	rideRequests int64
	rideAccepts  int64
	rideDeclines int64
	rideCancels  int64

	startTime time.Time
	latency   bucketCounter
}

func newMetrics() *metrics {
	return &metrics{
		startTime: time.Now(),
		latency: newBucketCounter(map[float64]int64{
			0.05: 0, 0.1: 0, 0.25: 0, 0.5: 0, 1: 0, 2.5: 0, 5: 0,
		}),
	}
}

func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		atomic.AddInt64(&m.requests, 1)
		atomic.AddInt64(&m.requestNS, elapsed.Nanoseconds())
		if rec.status >= 400 {
			atomic.AddInt64(&m.requestErrors, 1)
		}
		m.latency.observe(elapsed)
	})
}

// serveHTTP exposes a minimal Prometheus text-format endpoint.
func (m *metrics) serveHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "ridehail_requests_total %d\n", atomic.LoadInt64(&m.requests))
	fmt.Fprintf(w, "ridehail_request_errors_total %d\n", atomic.LoadInt64(&m.requestErrors))
	fmt.Fprintf(w, "ridehail_request_latency_seconds_total %.6f\n", float64(atomic.LoadInt64(&m.requestNS))/1e9)
	fmt.Fprintf(w, "ridehail_ride_requests_total %d\n", atomic.LoadInt64(&m.rideRequests))
	fmt.Fprintf(w, "ridehail_ride_accepts_total %d\n", atomic.LoadInt64(&m.rideAccepts))
	fmt.Fprintf(w, "ridehail_ride_declines_total %d\n", atomic.LoadInt64(&m.rideDeclines))
	fmt.Fprintf(w, "ridehail_ride_cancels_total %d\n", atomic.LoadInt64(&m.rideCancels))
	for le, count := range m.latency.snapshot() {
		fmt.Fprintf(w, "ridehail_request_latency_seconds_bucket{le=\"%.2f\"} %d\n", le, count)
	}
	fmt.Fprintf(w, "ridehail_uptime_seconds %.0f\n", time.Since(m.startTime).Seconds())
}
