package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ngoyal88/sqlrecorder/pkg/recorder"
	"github.com/ngoyal88/sqlrecorder/pkg/storage"
)

// RecorderAPI exposes the recorder control endpoints
type RecorderAPI struct {
	ctrl     *recorder.Controller
	store    storage.Store
	adminKey string // Simple admin authentication, empty disables it
	logger   *zap.Logger
}

// NewRecorderAPI creates a new control API handler
func NewRecorderAPI(ctrl *recorder.Controller, store storage.Store, adminKey string, logger *zap.Logger) *RecorderAPI {
	return &RecorderAPI{
		ctrl:     ctrl,
		store:    store,
		adminKey: adminKey,
		logger:   logger,
	}
}

// RegisterRoutes registers the control endpoints under /recorder
func (api *RecorderAPI) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/recorder/status", api.wrap(api.handleStatus)).Methods(http.MethodGet)
	r.HandleFunc("/recorder/state", api.wrap(api.handleSetState)).Methods(http.MethodPost)
	r.HandleFunc("/recorder/requests", api.wrap(api.handleGet)).Methods(http.MethodGet)
	r.HandleFunc("/recorder/requests/{id}", api.wrap(api.handleGet)).Methods(http.MethodGet)
	r.HandleFunc("/recorder/requests", api.wrap(api.handleDelete)).Methods(http.MethodDelete)
	r.HandleFunc("/recorder/events", api.wrap(api.handleEvents)).Methods(http.MethodGet)
}

func (api *RecorderAPI) wrap(h http.HandlerFunc) http.HandlerFunc {
	return doNotRecord(api.authenticate(h))
}

// doNotRecord drops any Recorder attached to the request before the control
// handler runs, so control requests never produce a trace.
func doNotRecord(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next(w, r.WithContext(recorder.Detach(r.Context())))
	}
}

// authenticate middleware checks admin key
func (api *RecorderAPI) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api.adminKey != "" && r.Header.Get("X-Admin-Key") != api.adminKey {
			respondJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid admin key",
			})
			return
		}
		next(w, r)
	}
}

// handleStatus returns whether recording is on
func (api *RecorderAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, err := api.ctrl.Status(ctx)
	if err != nil {
		api.respondError(w, "Failed to read recorder status", err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleSetState switches recording on when should_record is "true" and off otherwise
func (api *RecorderAPI) handleSetState(w http.ResponseWriter, r *http.Request) {
	shouldRecord, err := parseShouldRecord(r)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, err := api.ctrl.SetActive(ctx, shouldRecord)
	if err != nil {
		api.respondError(w, "Failed to set recorder state", err)
		return
	}
	api.logger.Info("Recorder state changed", zap.String("status", status.Status))
	respondJSON(w, http.StatusOK, status)
}

// handleGet returns one full trace when an id is given, otherwise the summaries
func (api *RecorderAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		id = r.URL.Query().Get("id")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if id != "" {
		trace, err := api.store.GetTrace(ctx, id)
		if err != nil {
			api.respondError(w, "Failed to get trace", err)
			return
		}
		respondJSON(w, http.StatusOK, trace)
		return
	}

	traces, err := api.store.ListTraces(ctx)
	if err != nil {
		api.respondError(w, "Failed to list traces", err)
		return
	}
	respondJSON(w, http.StatusOK, traces)
}

// handleDelete clears the summary list. Detail records expire on their own.
func (api *RecorderAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := api.store.ClearTraces(ctx); err != nil {
		api.respondError(w, "Failed to clear traces", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams dump notifications as server-sent events
func (api *RecorderAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	events, stop := api.store.Subscribe(ctx, storage.DumpEvent)
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", storage.DumpEvent, payload)
			flusher.Flush()
		}
	}
}

func parseShouldRecord(r *http.Request) (bool, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return false, err
		}
		return fmt.Sprint(req["should_record"]) == "true", nil
	}
	return r.FormValue("should_record") == "true", nil
}

func (api *RecorderAPI) respondError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status != http.StatusNotFound {
		api.logger.Error(msg, zap.Error(err))
	}
	respondJSON(w, status, map[string]string{
		"error": fmt.Sprintf("%s: %v", msg, err),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
