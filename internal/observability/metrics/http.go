package metrics

import (
	"strconv"
	"time"
)

var (
	httpRequests = newCounterVec("awe_http_requests_total",
		"Total number of API requests processed.", "handler", "method", "code")
	httpErrors = newCounterVec("awe_http_request_errors_total",
		"API requests that resulted in a server error.", "handler", "method")
	httpLatency = newHistogramVec("awe_http_request_duration_seconds",
		"API request duration in seconds.", []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}, "handler", "method")
)

// ObserveHTTPRequest records one API request. handler is the route name,
// not the raw path, so addresses never become label values.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.inc(handler, method, strconv.Itoa(status))
	if status >= 500 {
		httpErrors.inc(handler, method)
	}
	httpLatency.observe(duration, handler, method)
}
