package httpapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/fa-sharp/streamgate/internal/apierr"
	"github.com/fa-sharp/streamgate/internal/controller"
	"github.com/fa-sharp/streamgate/internal/ingest"
)

type keyRequest struct {
	Key string `json:"key"`
}

type streamURLResponse struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

func (s *Server) streamURL(key, kind string) string {
	return s.cfg.ServerAddress + "/api/client/" + kind + "?key=" + url.QueryEscape(key)
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Key == "" {
		s.writeError(w, apierr.New(apierr.KindBadRequest, "key is required"))
		return
	}

	active, err := s.ctrl.IsActive(r.Context(), req.Key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if active {
		s.writeError(w, apierr.New(apierr.KindExistingStream, "stream already active"))
		return
	}

	if _, err := s.ctrl.Start(r.Context(), req.Key); err != nil {
		s.writeError(w, err)
		return
	}

	tok, err := s.tokens.MintClientToken(req.Key, 0)
	if err != nil {
		s.writeError(w, apierr.Internal("mint client token", err))
		return
	}
	writeJSON(w, http.StatusOK, streamURLResponse{URL: s.streamURL(req.Key, "sse"), Token: tok})
}

// handleCreateToken mints a consumer token unconditionally — the stream
// need not exist yet, per the open question recorded in SPEC_FULL.md.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Key == "" {
		s.writeError(w, apierr.New(apierr.KindBadRequest, "key is required"))
		return
	}

	tok, err := s.tokens.MintClientToken(req.Key, 0)
	if err != nil {
		s.writeError(w, apierr.Internal("mint client token", err))
		return
	}
	writeJSON(w, http.StatusOK, streamURLResponse{URL: s.streamURL(req.Key, "sse"), Token: tok})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	summaries, err := s.ctrl.Scan(r.Context(), pattern)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.ActiveStreams.Set(float64(len(summaries)))
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleStreamInfo(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeError(w, apierr.New(apierr.KindBadRequest, "key is required"))
		return
	}
	status, length, ttl, err := s.ctrl.Info(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if status == "" {
		s.writeError(w, apierr.New(apierr.KindStreamNotFound, "stream not found"))
		return
	}
	writeJSON(w, http.StatusOK, controller.Summary{Key: key, Length: length, TTL: ttl})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeError(w, apierr.New(apierr.KindBadRequest, "key is required"))
		return
	}
	events, err := s.ctrl.ListEvents(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type addEventsRequest struct {
	Key    string               `json:"key"`
	Events []controller.EventIn `json:"events"`
}

type addEventsResponse struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleAddEvents(w http.ResponseWriter, r *http.Request) {
	var req addEventsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	ids, err := s.ctrl.WriteMany(r.Context(), req.Key, req.Events)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.EventsAppendedTotal.WithLabelValues("ok").Add(float64(len(ids)))
	writeJSON(w, http.StatusOK, addEventsResponse{IDs: ids})
}

func (s *Server) handleAddJSONStream(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeError(w, apierr.New(apierr.KindBadRequest, "key is required"))
		return
	}
	result, err := ingest.JSONStream(r.Context(), s.exclPool, s.logger, key, r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.EventsAppendedTotal.WithLabelValues("ok").Add(float64(len(result.IDs)))
	s.metrics.EventsAppendedTotal.WithLabelValues("rejected").Add(float64(len(result.Errors)))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelStream(w http.ResponseWriter, r *http.Request) {
	s.terminate(w, r, s.ctrl.Cancel, "cancelled")
}

func (s *Server) handleEndStream(w http.ResponseWriter, r *http.Request) {
	s.terminate(w, r, s.ctrl.End, "ended")
}

func (s *Server) terminate(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error, status string) {
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	active, err := s.ctrl.IsActive(r.Context(), req.Key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !active {
		s.writeError(w, apierr.New(apierr.KindStreamNotFound, "stream not found"))
		return
	}
	if err := op(r.Context(), req.Key); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
