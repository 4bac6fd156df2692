package trace

import "net/http"

// Middleware extracts or creates a trace context for each request and
// echoes the trace ID back to the caller.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := Context{
			TraceID:      r.Header.Get(TraceIDHeader),
			SpanID:       newID(8),
			ParentSpanID: r.Header.Get(SpanIDHeader),
		}
		if tc.TraceID == "" {
			tc = New()
		}

		w.Header().Set(TraceIDHeader, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}
