package observability

import (
	"log/slog"
	"net/http"
)

// Audit emits one structured record per security- or money-relevant action
// (reservation placed, settlement applied, session revoked). These records
// are the reconciliation trail for stock-leak incidents.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}

// AuditIncident records conditions that need human follow-up, most notably
// a failed stock rollback (a unit leaked until the reaper reclaims it).
func AuditIncident(event string, attrs ...any) {
	base := []any{"event", event, "severity", "incident"}
	base = append(base, attrs...)
	slog.Error("audit", base...)
}
