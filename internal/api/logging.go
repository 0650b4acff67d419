package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// JSONLogger emits structured one-line logs with request id, status, and
// latency, matching the teacher's internal/api/logging.go format.
func JSONLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rec, r)

		reqID := middleware.GetReqID(r.Context())
		userID := int64(0)
		if id, ok := identityFromContext(r.Context()); ok {
			userID = id.UserID
		}
		log.Printf(`{"ts":"%s","request_id":"%s","method":"%s","path":"%s","status":%d,"latency_ms":%.3f,"user_id":%d}`,
			time.Now().UTC().Format(time.RFC3339Nano),
			reqID,
			r.Method,
			r.URL.Path,
			rec.status,
			float64(time.Since(start).Microseconds())/1000,
			userID,
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
