package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseguard/pkg/artifact"
	"pulseguard/pkg/featurestore"
	"pulseguard/pkg/health"
	"pulseguard/pkg/infer"
	"pulseguard/pkg/model"
	"pulseguard/pkg/schema"
	"pulseguard/pkg/structlog"
	"pulseguard/pkg/transform"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry := schema.NewMemoryRegistry()
	artifacts, err := artifact.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	return &Server{
		log:            structlog.NewLogger("riskapi-test", structlog.LevelError, os.Stderr),
		registry:       registry,
		rows:           featurestore.NewMemoryStore(),
		artifacts:      artifacts,
		engine:         transform.NewEngine(transform.Config{}),
		trainer:        model.NewTrainer(),
		infer:          infer.NewAdapter(registry, artifacts),
		maxMissingness: 0.5,
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func apiSchema() *schema.FeatureSchema {
	return &schema.FeatureSchema{
		Features: []schema.FeatureDef{
			{Name: "steps", Type: schema.TypeNumeric, Derivation: schema.DeriveAggregate,
				SourceField: health.FieldSteps, Reduction: schema.ReduceSum, NullPolicy: schema.NullAllow},
			{Name: "sleep_minutes", Type: schema.TypeNumeric, Derivation: schema.DeriveAggregate,
				SourceField: health.FieldSleepMinutes, Reduction: schema.ReduceSum, NullPolicy: schema.NullAllow},
		},
	}
}

// wearableDay builds one flat wearable export row.
func wearableDay(user string, day int, steps, sleep float64, label string) map[string]string {
	row := map[string]string{
		"user_id":       user,
		"date":          fmt.Sprintf("2024-03-%02d", day),
		"steps":         fmt.Sprintf("%.0f", steps),
		"sleep_minutes": fmt.Sprintf("%.0f", sleep),
	}
	if label != "" {
		row["risk_level"] = label
	}
	return row
}

func cohortRows() []map[string]string {
	var rows []map[string]string
	for u := 0; u < 15; u++ {
		var steps, sleep float64
		var label string
		switch u % 3 {
		case 0:
			steps, sleep, label = 1200, 280, "High"
		case 1:
			steps, sleep, label = 6200, 380, "Moderate"
		case 2:
			steps, sleep, label = 12500, 440, "Low"
		}
		for d := 1; d <= 3; d++ {
			rows = append(rows, wearableDay(fmt.Sprintf("api-user-%d", u), d, steps+float64(d), sleep, label))
		}
	}
	return rows
}

func TestSchemaEndpoints(t *testing.T) {
	srv := newTestServer(t)
	routes := srv.Routes()

	rec := doJSON(t, routes, http.MethodPost, "/v1/schemas", apiSchema())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 1, created["version"])

	rec = doJSON(t, routes, http.MethodGet, "/v1/schemas/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest schema.FeatureSchema
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, 1, latest.Version)
	assert.Len(t, latest.Features, 2)

	rec = doJSON(t, routes, http.MethodGet, "/v1/schemas/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Re-registering the same definitions is idempotent.
	same := apiSchema()
	same.Version = 1
	rec = doJSON(t, routes, http.MethodPost, "/v1/schemas", same)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Conflicting definitions for an existing version are refused.
	conflicting := apiSchema()
	conflicting.Version = 1
	conflicting.Features[0].Reduction = schema.ReduceMean
	rec = doJSON(t, routes, http.MethodPost, "/v1/schemas", conflicting)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTransformTrainPredictFlow(t *testing.T) {
	srv := newTestServer(t)
	routes := srv.Routes()

	rec := doJSON(t, routes, http.MethodPost, "/v1/schemas", apiSchema())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, routes, http.MethodPost, "/v1/transform", transformRequest{
		Source: health.SourceWearable,
		Rows:   cohortRows(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tres transformResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tres))
	assert.Equal(t, 1, tres.SchemaVersion)
	assert.Equal(t, 45, tres.RowsEmitted)
	assert.True(t, tres.Persisted)
	assert.Equal(t, tres.Report.TotalUserDays, tres.Report.EmittedRows+tres.Report.RejectedRows)

	rec = doJSON(t, routes, http.MethodPost, "/v1/train", trainRequest{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var trained trainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trained))
	assert.NotEmpty(t, trained.Artifact.ID)
	assert.Equal(t, 1, trained.Artifact.SchemaVersion)
	assert.NotEmpty(t, trained.Report.Winner)

	rec = doJSON(t, routes, http.MethodPost, "/v1/predict", predictRequest{
		Source:     health.SourceWearable,
		ArtifactID: trained.Artifact.ID,
		Rows:       []map[string]string{wearableDay("fresh-user", 9, 12000, 450, "")},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pred health.RiskPrediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pred))
	assert.Equal(t, 1, pred.SchemaVersion)
	assert.Equal(t, trained.Artifact.ID, pred.ModelID)
	// 12k steps on 7.5h of sleep sits squarely in the low-risk cohort.
	assert.Equal(t, health.RiskLow, pred.Level)

	rec = doJSON(t, routes, http.MethodGet, "/v1/artifacts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), trained.Artifact.ID)
}

func TestTransformDryRunDoesNotPersist(t *testing.T) {
	srv := newTestServer(t)
	routes := srv.Routes()
	doJSON(t, routes, http.MethodPost, "/v1/schemas", apiSchema())

	rec := doJSON(t, routes, http.MethodPost, "/v1/transform", transformRequest{
		Source: health.SourceWearable,
		Rows:   []map[string]string{wearableDay("u1", 1, 5000, 400, "")},
		DryRun: true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tres transformResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tres))
	assert.False(t, tres.Persisted)

	// Training now fails: nothing was stored.
	rec = doJSON(t, routes, http.MethodPost, "/v1/train", trainRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTransformCountsMalformedRows(t *testing.T) {
	srv := newTestServer(t)
	routes := srv.Routes()
	doJSON(t, routes, http.MethodPost, "/v1/schemas", apiSchema())

	rec := doJSON(t, routes, http.MethodPost, "/v1/transform", transformRequest{
		Source: health.SourceWearable,
		Rows: []map[string]string{
			wearableDay("u1", 1, 5000, 400, ""),
			{"steps": "9000"}, // no identity
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tres transformResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tres))
	assert.Equal(t, 1, tres.Malformed)
	assert.Equal(t, 1, tres.RowsEmitted)
}

func TestTrainWithUnknownSchemaVersion(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv.Routes(), http.MethodPost, "/v1/train", trainRequest{SchemaVersion: 42})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// brokenRegistry simulates a storage fault rather than a missing version.
type brokenRegistry struct{}

func (brokenRegistry) Get(ctx context.Context, version int) (*schema.FeatureSchema, error) {
	return nil, fmt.Errorf("registry query: connection reset")
}

func (brokenRegistry) Latest(ctx context.Context) (*schema.FeatureSchema, error) {
	return nil, fmt.Errorf("registry query: connection reset")
}

func (brokenRegistry) Register(ctx context.Context, s *schema.FeatureSchema) (int, error) {
	return 0, fmt.Errorf("registry query: connection reset")
}

func TestRegistryFaultIsServerError(t *testing.T) {
	srv := newTestServer(t)
	srv.registry = brokenRegistry{}
	routes := srv.Routes()

	rec := doJSON(t, routes, http.MethodPost, "/v1/train", trainRequest{SchemaVersion: 1})
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

	rec = doJSON(t, routes, http.MethodPost, "/v1/transform", transformRequest{
		Source: health.SourceWearable,
		Rows:   []map[string]string{wearableDay("u1", 1, 5000, 400, "")},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
}

func TestPredictWithUnknownArtifact(t *testing.T) {
	srv := newTestServer(t)
	routes := srv.Routes()
	doJSON(t, routes, http.MethodPost, "/v1/schemas", apiSchema())

	rec := doJSON(t, routes, http.MethodPost, "/v1/predict", predictRequest{
		Source:     health.SourceWearable,
		ArtifactID: "ghost",
		Rows:       []map[string]string{wearableDay("u1", 1, 5000, 400, "")},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictWithUnrecognizedSource(t *testing.T) {
	srv := newTestServer(t)
	routes := srv.Routes()
	doJSON(t, routes, http.MethodPost, "/v1/schemas", apiSchema())

	rec := doJSON(t, routes, http.MethodPost, "/v1/transform", transformRequest{
		Source: "spreadsheet",
		Rows:   []map[string]string{wearableDay("u1", 1, 5000, 400, "")},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv.Routes(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
