package passport

import "net/http"

func listStatusesHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		records, err := svc.ListStatuses(r.Context(), passportID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]StatusDefinition, 0, len(records))
		for i := range records {
			items = append(items, recordToStatus(&records[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func defineStatusHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		var req DefineStatusRequest
		if !decodeBody(w, r, &req) {
			return
		}
		record, err := svc.DefineStatus(r.Context(), passportID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, recordToStatus(record))
	}
}

func updateStatusHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusID, ok := int64Param(w, r, "statusId")
		if !ok {
			return
		}
		var req UpdateStatusRequest
		if !decodeBody(w, r, &req) {
			return
		}
		record, err := svc.UpdateStatus(r.Context(), statusID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recordToStatus(record))
	}
}

func deleteStatusHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusID, ok := int64Param(w, r, "statusId")
		if !ok {
			return
		}
		if err := svc.DeleteStatus(r.Context(), statusID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listTransitionsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		records, err := svc.ListTransitions(r.Context(), passportID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]StatusTransition, 0, len(records))
		for i := range records {
			items = append(items, recordToTransition(&records[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func defineTransitionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		var req DefineTransitionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		record, err := svc.DefineTransition(r.Context(), passportID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, recordToTransition(record))
	}
}

func deleteTransitionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transitionID, ok := int64Param(w, r, "transitionId")
		if !ok {
			return
		}
		if err := svc.DeleteTransition(r.Context(), transitionID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func diagnosticsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passportID, ok := int64Param(w, r, "passportId")
		if !ok {
			return
		}
		diag, err := svc.DiagnoseStatusModel(r.Context(), passportID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, diag)
	}
}
