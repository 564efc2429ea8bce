package audit

import (
	"net/http"

	"github.com/platinummonkey/carebridge/pkg/httputil"
)

// TrackOptions describes the event a tracked route produces
type TrackOptions struct {
	Action       Action
	ResourceType string
	Risk         RiskLevel
	// ResourceID extracts the resource id from the request. Optional.
	ResourceID func(*http.Request) string
}

// Middleware records one event per request on tracked routes
type Middleware struct {
	recorder Recorder
}

func NewMiddleware(recorder Recorder) *Middleware {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Middleware{recorder: recorder}
}

// Track wraps a handler and records an event once it has responded.
// success is status < 400.
func (m *Middleware) Track(opts TrackOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := httputil.NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			var resourceID string
			if opts.ResourceID != nil {
				resourceID = opts.ResourceID(r)
			}

			e := NewEvent(opts.Action, opts.Risk).
				On(opts.ResourceType, resourceID).
				WithMeta(MetaFromRequest(r)).
				With("method", r.Method).
				With("path", r.URL.Path).
				With("status_code", rec.Status)
			if rec.Status >= http.StatusBadRequest {
				e.Failed(nil)
				e.ErrorMessage = http.StatusText(rec.Status)
			}
			m.recorder.Record(r.Context(), e)
		})
	}
}
