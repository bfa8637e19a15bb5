package passport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func listVersionsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		pageSize, pageToken := pageParams(r)
		records, next, err := svc.ListVersions(r.Context(), passportID, pageSize, pageToken)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]PassportVersion, 0, len(records))
		for i := range records {
			items = append(items, recordToVersion(&records[i]))
		}
		writeJSON(w, http.StatusOK, PassportVersionList{Items: items, NextPageToken: next})
	}
}

func createVersionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		var req CreateVersionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		record, err := svc.CreateVersion(r.Context(), passportID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, recordToVersion(record))
	}
}

func getVersionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		version, err := strconv.Atoi(chi.URLParam(r, "version"))
		if err != nil || version <= 0 {
			writeError(w, http.StatusBadRequest, "invalid version")
			return
		}
		record, err := svc.GetVersion(r.Context(), passportID, version)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recordToVersion(record))
	}
}
