package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/pagespeed/pkg/metrics"
)

// MetricsMiddleware records request count and latency per endpoint. Error
// responses are also counted under the code the handler answered with, so the
// error series use the same vocabulary as the JSON body.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		ms := float64(time.Since(start).Milliseconds())
		status := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, ms)
		if rec.status < http.StatusBadRequest {
			return
		}

		code := rec.code
		if code == "" {
			code = codeForStatus(rec.status)
		}
		metrics.RecordErrorByEndpoint(endpoint, r.Method, code)
		metrics.RecordErrorByType(code, severityForStatus(rec.status))
		metrics.RecordErrorLatency("http", code, ms)
	}
}

// codeForStatus labels error responses written without writeError, such as
// http.NotFound.
func codeForStatus(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= http.StatusInternalServerError:
		return "internal_error"
	default:
		return "bad_request"
	}
}

// severityForStatus ranks 5xx high and 429 low.
func severityForStatus(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "high"
	case status == http.StatusTooManyRequests:
		return "low"
	default:
		return "medium"
	}
}

// errorCoder is implemented by writers that want the error code of the response.
type errorCoder interface {
	setErrorCode(code string)
}

// statusRecorder captures the status and error code a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
	code   string
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) setErrorCode(code string) {
	rec.code = code
}
