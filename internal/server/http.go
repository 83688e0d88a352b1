// Package server exposes the analysis engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threatlens/internal/behavior"
	"threatlens/internal/engine"
	"threatlens/internal/logger"
	"threatlens/pkg/models"
)

// Server is the HTTP API over the engine and behavior analytics.
type Server struct {
	engine   *engine.Engine
	behavior *behavior.Analytics
	httpSrv  *http.Server
}

// New creates the API server.
func New(addr string, eng *engine.Engine, ueba *behavior.Analytics) *Server {
	s := &Server{engine: eng, behavior: ueba}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/models/status", s.handleModelStatus).Methods(http.MethodGet)
	r.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/analyze/batch", s.handleAnalyzeBatch).Methods(http.MethodPost)
	r.HandleFunc("/train", s.handleTrain).Methods(http.MethodPost)
	r.HandleFunc("/anomaly/detect", s.handleAnomalyDetect).Methods(http.MethodPost)
	r.HandleFunc("/behavior/record", s.handleBehaviorRecord).Methods(http.MethodPost)
	r.HandleFunc("/behavior/analyze", s.handleBehaviorAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/behavior/high-risk", s.handleHighRisk).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API listening on %s", s.httpSrv.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeEvent(r *http.Request) (*models.Event, error) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return models.EventFromMap(raw), nil
}

func decodeEvents(r *http.Request) ([]*models.Event, error) {
	var raws []map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		return nil, err
	}
	events := make([]*models.Event, len(raws))
	for i, raw := range raws {
		events[i] = models.EventFromMap(raw)
	}
	return events, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.engine.ModelStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"classifier_trained": status.ClassifierTrained,
		"detector_fitted":    status.DetectorFitted,
	})
}

func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"models": s.engine.ModelStatus(),
	}
	if s.behavior != nil {
		resp["tracked_users"] = s.behavior.TrackedUsers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	event, err := decodeEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Analyze(event))
}

func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	events, err := decodeEvents(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.AnalyzeBatch(events))
}

// handleTrain trains the classifier on labeled samples and refits the
// anomaly detector on the whole set.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	events, err := decodeEvents(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := s.engine.Train(events)
	if err != nil {
		var insufficient *models.InsufficientDataError
		if errors.As(err, &insufficient) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	fitReport, err := s.engine.FitAnomaly(events)
	if err != nil {
		logger.Warnf("Anomaly detector fit skipped: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"training": report,
		"anomaly":  fitReport,
	})
}

func (s *Server) handleAnomalyDetect(w http.ResponseWriter, r *http.Request) {
	event, err := decodeEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.DetectAnomaly(event))
}

func (s *Server) handleBehaviorRecord(w http.ResponseWriter, r *http.Request) {
	event, err := decodeEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.behavior.RecordActivity(event)
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleBehaviorAnalyze(w http.ResponseWriter, r *http.Request) {
	event, err := decodeEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.behavior.AnalyzeBehavior(event))
}

func (s *Server) handleHighRisk(w http.ResponseWriter, r *http.Request) {
	threshold := 0.6
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			writeError(w, http.StatusBadRequest, errors.New("threshold must be a number in [0,1]"))
			return
		}
		threshold = v
	}
	users := s.behavior.HighRiskUsers(threshold)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"threshold": threshold,
		"users":     users,
	})
}
