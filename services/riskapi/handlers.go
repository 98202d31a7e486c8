package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulseguard/pkg/artifact"
	"pulseguard/pkg/featurestore"
	"pulseguard/pkg/health"
	"pulseguard/pkg/infer"
	"pulseguard/pkg/ingest"
	"pulseguard/pkg/model"
	"pulseguard/pkg/schema"
	"pulseguard/pkg/structlog"
	"pulseguard/pkg/transform"
)

// Server holds the wired pipeline behind the HTTP surface.
type Server struct {
	log            *structlog.Logger
	registry       schema.Registry
	rows           featurestore.Store
	artifacts      *artifact.FileStore
	engine         *transform.Engine
	trainer        *model.Trainer
	infer          *infer.Adapter
	maxMissingness float64
}

// Routes builds the HTTP mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/schemas", s.handleRegisterSchema)
	mux.HandleFunc("GET /v1/schemas/latest", s.handleLatestSchema)
	mux.HandleFunc("GET /v1/schemas/{version}", s.handleGetSchema)
	mux.HandleFunc("POST /v1/transform", s.handleTransform)
	mux.HandleFunc("POST /v1/train", s.handleTrain)
	mux.HandleFunc("POST /v1/predict", s.handlePredict)
	mux.HandleFunc("GET /v1/artifacts", s.handleListArtifacts)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegisterSchema(w http.ResponseWriter, r *http.Request) {
	var sch schema.FeatureSchema
	if err := json.NewDecoder(r.Body).Decode(&sch); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid schema body: %w", err))
		return
	}
	version, err := s.registry.Register(r.Context(), &sch)
	if err != nil {
		if errors.Is(err, schema.ErrConflict) {
			s.writeError(w, r, http.StatusConflict, err)
			return
		}
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	s.log.WithContext(r.Context()).Info("schema registered", structlog.Fields{
		"schema_version": version,
		"features":       len(sch.Features),
	})
	writeJSON(w, http.StatusCreated, map[string]int{"version": version})
}

func (s *Server) handleLatestSchema(w http.ResponseWriter, r *http.Request) {
	sch, err := s.registry.Latest(r.Context())
	if err != nil {
		if errors.Is(err, schema.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, err)
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid schema version %q", r.PathValue("version")))
		return
	}
	sch, err := s.registry.Get(r.Context(), version)
	if err != nil {
		if errors.Is(err, schema.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, err)
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

type transformRequest struct {
	Source        health.SourceType   `json:"source"`
	SchemaVersion int                 `json:"schema_version"` // 0 means latest
	Rows          []map[string]string `json:"rows"`
	DryRun        bool                `json:"dry_run,omitempty"`
}

type transformResponse struct {
	SchemaVersion int                         `json:"schema_version"`
	RowsIn        int                         `json:"rows_in"`
	Malformed     int                         `json:"malformed"`
	RowsEmitted   int                         `json:"rows_emitted"`
	Persisted     bool                        `json:"persisted"`
	Report        transform.MissingnessReport `json:"report"`
	Warning       string                      `json:"warning,omitempty"`
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid transform body: %w", err))
		return
	}
	if len(req.Rows) == 0 {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("no rows to transform"))
		return
	}

	sch, err := s.resolveSchema(r, req.SchemaVersion)
	if err != nil {
		s.writeSchemaError(w, r, err)
		return
	}

	records := make([]health.CanonicalRecord, 0, len(req.Rows))
	malformed := 0
	for _, raw := range req.Rows {
		rec, err := ingest.Normalize(req.Source, raw)
		if err != nil {
			if errors.Is(err, ingest.ErrMalformedRow) {
				malformed++
				continue
			}
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		records = append(records, *rec)
	}
	if len(records) == 0 {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("all %d rows malformed", malformed))
		return
	}

	result, err := s.engine.Transform(r.Context(), sch, records)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp := transformResponse{
		SchemaVersion: sch.Version,
		RowsIn:        len(req.Rows),
		Malformed:     malformed,
		RowsEmitted:   len(result.Rows),
		Report:        result.Report,
	}
	if soft := result.Report.Check(s.maxMissingness); soft != nil {
		resp.Warning = soft.Error()
		s.log.WithContext(r.Context()).Warn("missingness threshold exceeded", structlog.Fields{
			"schema_version": sch.Version,
			"rejected":       result.Report.RejectedRows,
			"total":          result.Report.TotalUserDays,
		})
	}
	if !req.DryRun {
		if err := s.rows.SaveRows(r.Context(), result.Rows); err != nil {
			s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("persist feature rows: %w", err))
			return
		}
		resp.Persisted = true
	}
	s.log.WithContext(r.Context()).Info("transform complete", structlog.Fields{
		"schema_version": sch.Version,
		"rows_emitted":   resp.RowsEmitted,
		"rejected":       result.Report.RejectedRows,
		"malformed":      malformed,
	})
	writeJSON(w, http.StatusOK, resp)
}

type trainRequest struct {
	SchemaVersion int                   `json:"schema_version"` // 0 means latest
	Candidates    []model.CandidateSpec `json:"candidates"`
}

type trainResponse struct {
	Artifact artifact.Metadata  `json:"artifact"`
	Report   *model.TrainReport `json:"report"`
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid train body: %w", err))
		return
	}
	if len(req.Candidates) == 0 {
		req.Candidates = []model.CandidateSpec{
			{Algorithm: model.AlgorithmSoftmax},
			{Algorithm: model.AlgorithmForest},
			{Algorithm: model.AlgorithmBanded},
		}
	}

	sch, err := s.resolveSchema(r, req.SchemaVersion)
	if err != nil {
		s.writeSchemaError(w, r, err)
		return
	}
	rows, err := s.rows.RowsByVersion(r.Context(), sch.Version)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("load training set: %w", err))
		return
	}

	art, report, err := s.trainer.Train(r.Context(), sch, rows, req.Candidates)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrSchemaVersionMismatch), errors.Is(err, model.ErrNoLabeledRows):
			s.writeError(w, r, http.StatusUnprocessableEntity, err)
		default:
			s.writeError(w, r, http.StatusInternalServerError, err)
		}
		return
	}
	if err := s.artifacts.Put(r.Context(), art); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("persist artifact: %w", err))
		return
	}
	s.log.WithContext(r.Context()).Info("training complete", structlog.Fields{
		"schema_version": sch.Version,
		"artifact_id":    art.Metadata.ID,
		"winner":         report.Winner,
		"test_macro_f1":  report.Test.MacroF1,
	})
	writeJSON(w, http.StatusCreated, trainResponse{Artifact: art.Metadata, Report: report})
}

type predictRequest struct {
	Source     health.SourceType   `json:"source"`
	ArtifactID string              `json:"artifact_id"`
	Rows       []map[string]string `json:"rows"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid predict body: %w", err))
		return
	}
	if req.ArtifactID == "" {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("artifact_id is required"))
		return
	}
	if len(req.Rows) == 0 {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("no rows to predict from"))
		return
	}

	pred, err := s.infer.Predict(r.Context(), req.Source, req.Rows, req.ArtifactID)
	if err != nil {
		switch {
		case errors.Is(err, artifact.ErrNotFound), errors.Is(err, schema.ErrNotFound):
			s.writeError(w, r, http.StatusNotFound, err)
		case errors.Is(err, ingest.ErrUnrecognizedSource), errors.Is(err, ingest.ErrMalformedRow):
			s.writeError(w, r, http.StatusBadRequest, err)
		default:
			s.writeError(w, r, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	list, err := s.artifacts.List(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"artifacts": list})
}

func (s *Server) resolveSchema(r *http.Request, version int) (*schema.FeatureSchema, error) {
	if version == 0 {
		return s.registry.Latest(r.Context())
	}
	return s.registry.Get(r.Context(), version)
}

// writeSchemaError maps a registry lookup failure: a missing version is the
// caller's mistake, anything else is a storage fault.
func (s *Server) writeSchemaError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, schema.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound, err)
		return
	}
	s.writeError(w, r, http.StatusInternalServerError, err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.WithContext(r.Context()).Error("request failed", structlog.Fields{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
