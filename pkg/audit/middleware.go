package audit

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/socialpassport/passport-registry/pkg/authz"
	"github.com/socialpassport/passport-registry/pkg/passport"
)

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// AuditMiddleware records one request-level audit event per mutating API
// call. It must be mounted after authz.Authenticate so the caller identity
// is available.
func AuditMiddleware(store *passport.AuditStore, cfg *AuditConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !isAuditedRequest(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()
			capture := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(capture, r)

			statusCode := capture.statusCode
			outcome := outcomeFromStatus(statusCode)
			if outcome == passport.OutcomeDenied && !cfg.LogDenied {
				return
			}

			ctx := r.Context()
			actor, role := "anonymous", ""
			if id, ok := authz.IdentityFromContext(ctx); ok {
				actor = id.User
				role = string(id.Role)
			}

			requestID := middleware.GetReqID(ctx)
			target := parseTarget(r.URL.Path)

			event := &passport.AuditEventRecord{
				RequestID:  requestID,
				EventType:  passport.EventTypeRequest,
				Actor:      actor,
				ActorRole:  role,
				Action:     extractActionVerb(r.Method, r.URL.Path),
				EntityType: target.EntityType,
				EntityID:   target.EntityID,
				PassportID: target.PassportID,
				Outcome:    outcome,
				StatusCode: statusCode,
				IPAddress:  clientIP(r),
				UserAgent:  r.UserAgent(),
				CreatedAt:  startTime,
				Metadata: passport.JSONAny{
					"method":   r.Method,
					"path":     r.URL.Path,
					"duration": time.Since(startTime).String(),
				},
			}

			// Best-effort write: don't fail the request if audit write fails.
			if err := store.Append(ctx, event); err != nil {
				logger.Error("failed to write audit event", "error", err, "requestID", requestID)
			}
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return passport.OutcomeSuccess
	case code == http.StatusForbidden, code == http.StatusUnauthorized:
		return passport.OutcomeDenied
	default:
		return passport.OutcomeFailure
	}
}
