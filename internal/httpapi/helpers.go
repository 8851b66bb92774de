// Package httpapi wires every component built so far behind the HTTP
// route table in SPEC_FULL.md section 6, grounded on the orchestrator's
// cmd/gateway/main.go routing style (method-prefixed ServeMux patterns)
// and internal/httpapi/auth.go's writeJSON/sanitizeErr helpers.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/fa-sharp/streamgate/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps err to its HTTP status and logs it at a level
// matching SPEC_FULL.md's error-handling design: internal failures at
// error, client-facing rejections at info. A stream-connection-limit
// rejection additionally increments the pool-acquire-timeouts counter,
// since that is the one error kind produced solely by pool exhaustion.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Internal("internal error", err)
	}

	status := apierr.StatusFor(apiErr.Kind)
	message := apiErr.Message
	if apiErr.Kind == apierr.KindUnauthorized {
		// Collapse to a generic message to avoid helping probe attempts,
		// per the error-handling design's stated policy.
		message = "unauthorized"
	}
	if apiErr.Kind == apierr.KindTooManyRequests && s.metrics != nil {
		s.metrics.PoolAcquireTimeouts.Inc()
	}

	if s.logger != nil {
		if status >= 500 {
			s.logger.Error("request failed", zap.Error(apiErr), zap.String("kind", apiErr.Kind.String()))
		} else {
			s.logger.Info("request rejected", zap.String("kind", apiErr.Kind.String()), zap.String("message", apiErr.Message))
		}
	}

	writeJSON(w, status, errorBody{Code: apiErr.Kind.String(), Message: message})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Wrap(apierr.KindBadRequest, "malformed request body", err)
	}
	return nil
}
