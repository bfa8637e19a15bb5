package audit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/socialpassport/passport-registry/pkg/passport"
)

// ListEventsHandler handles GET /api/v1/audit/events
// Query params: passportId, entityType, entityId, actor, action, eventType, pageSize, pageToken
func ListEventsHandler(svc *passport.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := passport.AuditFilter{
			EntityType: q.Get("entityType"),
			Actor:      q.Get("actor"),
			Action:     q.Get("action"),
			EventType:  q.Get("eventType"),
		}
		var ok bool
		if filter.PassportID, ok = int64Query(w, r, "passportId"); !ok {
			return
		}
		if filter.EntityID, ok = int64Query(w, r, "entityId"); !ok {
			return
		}

		pageSize := 0
		if ps := q.Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}

		records, nextToken, total, err := svc.ListAuditEvents(r.Context(), filter, pageSize, q.Get("pageToken"))
		if err != nil {
			passport.WriteServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, passport.NewAuditEventList(records, nextToken, total))
	}
}

// GetEventHandler handles GET /api/v1/audit/events/{eventId}
func GetEventHandler(svc *passport.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventId")
		if eventID == "" {
			writeError(w, http.StatusBadRequest, "missing event ID")
			return
		}

		record, err := svc.GetAuditEvent(r.Context(), eventID)
		if err != nil {
			passport.WriteServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, passport.NewAuditEvent(record))
	}
}

func int64Query(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
