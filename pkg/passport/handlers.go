package passport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds request bodies; version snapshots are the largest.
const maxBodyBytes = 8 << 20

// requestInfoMiddleware copies request details used by audit events into the
// request context.
func requestInfoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := WithRequestInfo(r.Context(), RequestInfo{
			RequestID: middleware.GetReqID(r.Context()),
			IPAddress: ip,
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func listPassportsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageSize, pageToken := pageParams(r)
		filter := PassportListFilter{Status: r.URL.Query().Get("status")}
		records, next, err := svc.ListPassports(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]Passport, 0, len(records))
		for i := range records {
			items = append(items, recordToPassport(&records[i]))
		}
		writeJSON(w, http.StatusOK, PassportList{Items: items, NextPageToken: next})
	}
}

func createPassportHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePassportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		record, err := svc.CreatePassport(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, recordToPassport(record))
	}
}

func getPassportHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		record, err := svc.GetPassport(r.Context(), passportID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recordToPassport(record))
	}
}

func updatePassportHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		var req UpdatePassportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		record, err := svc.UpdatePassport(r.Context(), passportID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recordToPassport(record))
	}
}

func changePassportStatusHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		var req ChangeStatusRequest
		if !decodeBody(w, r, &req) {
			return
		}
		record, err := svc.ChangePassportStatus(r.Context(), passportID, req.Status)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recordToPassport(record))
	}
}

func deletePassportHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		if err := svc.DeletePassport(r.Context(), passportID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func historyHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		pageSize, pageToken := pageParams(r)
		records, next, total, err := svc.PassportHistory(r.Context(), passportID, pageSize, pageToken)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NewAuditEventList(records, next, total))
	}
}

// NewAuditEventList converts audit records to their API list form.
func NewAuditEventList(records []AuditEventRecord, nextToken string, total int) AuditEventList {
	events := make([]AuditEvent, 0, len(records))
	for i := range records {
		events = append(events, recordToAuditEvent(&records[i]))
	}
	return AuditEventList{Events: events, NextPageToken: nextToken, TotalSize: total}
}

// NewAuditEvent converts one audit record to its API form.
func NewAuditEvent(record *AuditEventRecord) AuditEvent {
	return recordToAuditEvent(record)
}

func pageParams(r *http.Request) (int, string) {
	pageSize := 20
	if ps := r.URL.Query().Get("pageSize"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 {
			pageSize = v
		}
	}
	return pageSize, r.URL.Query().Get("pageToken")
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return v, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// HTTPStatus maps a service error onto an HTTP status code.
func HTTPStatus(err error) int {
	var te *TransitionError
	switch {
	case errors.As(err, &te):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrReferentialIntegrity):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteServiceError writes err as a JSON error response with the status
// HTTPStatus assigns to it.
func WriteServiceError(w http.ResponseWriter, err error) {
	writeServiceError(w, err)
}

func writeServiceError(w http.ResponseWriter, err error) {
	var te *TransitionError
	if errors.As(err, &te) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": te.Message,
			"code":  te.Code,
			"from":  te.From,
			"to":    te.To,
		})
		return
	}
	writeError(w, HTTPStatus(err), err.Error())
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
