package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// AuditAdmin records every successful signed mutation as an "admin" audit
// record. Paths under skip record their own events.
func AuditAdmin(sink domain.AuditSink, logger *slog.Logger, skip ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) || hasAnyPrefix(r.URL.Path, skip) {
				next.ServeHTTP(w, r)
				return
			}
			sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			who, ok := Caller(r.Context())
			if !ok || sw.status >= http.StatusBadRequest {
				return
			}
			rec := domain.AuditRecord{
				Event:   "admin",
				Actor:   who,
				Outcome: r.Method + " " + r.URL.Path,
				Detail:  map[string]any{"status": sw.status},
			}
			if err := sink.Record(r.Context(), rec); err != nil {
				logger.WarnContext(r.Context(), "admin action not audited",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
