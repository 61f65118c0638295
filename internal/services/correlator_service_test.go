package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-correlator/internal/correlation"
	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/store"
)

type correlatorStub struct {
	got     []models.Insight
	window  int
	outcome models.CorrelationOutcome
	err     error
}

func (c *correlatorStub) Correlate(_ context.Context, insights []models.Insight, windowMinutes int, _ correlation.SimilarityFinder) (models.CorrelationOutcome, error) {
	c.got = insights
	c.window = windowMinutes
	return c.outcome, c.err
}

type detectorStub struct {
	result *models.AnomalyDetectionResult
	err    error
	method models.DetectionMethod
}

func (d *detectorStub) Detect(_ context.Context, containerID, containerName, metricType string, value float64, requested models.DetectionMethod) (*models.AnomalyDetectionResult, error) {
	d.method = requested
	return d.result, d.err
}

type incidentsStub struct {
	incidents []models.Incident
	status    models.IncidentStatus
	limit     int
	err       error
}

func (i *incidentsStub) ListIncidents(_ context.Context, status models.IncidentStatus, limit int) ([]models.Incident, error) {
	i.status = status
	i.limit = limit
	return i.incidents, i.err
}

func (i *incidentsStub) ResolveIncident(_ context.Context, id string) (*models.Incident, error) {
	if i.err != nil {
		return nil, i.err
	}
	for _, inc := range i.incidents {
		if inc.ID == id {
			inc.Status = models.IncidentResolved
			return &inc, nil
		}
	}
	return nil, fmt.Errorf("lookup %s: %w", id, store.ErrNotFound)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func insightDoc(id, createdAt string) map[string]any {
	return map[string]any{
		"id":           id,
		"container_id": "c-" + id,
		"severity":     "warning",
		"category":     "anomaly",
		"title":        "Anomalous cpu usage on \"api\"",
		"created_at":   createdAt,
	}
}

func TestCorrelateOrdersInsightsEarliestFirst(t *testing.T) {
	correlator := &correlatorStub{outcome: models.CorrelationOutcome{IncidentsCreated: 1, InsightsGrouped: 2}}
	service := NewCorrelatorService(nil, correlator, nil, nil, nil)

	resp, err := service.Correlate(context.Background(), mustStruct(t, map[string]any{
		"window_minutes": 10,
		"insights": []any{
			insightDoc("late", "2026-05-01T12:05:00Z"),
			insightDoc("early", "2026-05-01T12:00:00Z"),
		},
	}))
	require.NoError(t, err)
	require.Len(t, correlator.got, 2)
	assert.Equal(t, "early", correlator.got[0].ID)
	assert.Equal(t, 10, correlator.window)
	assert.Equal(t, 1.0, resp.GetFields()["incidents_created"].GetNumberValue())
}

func TestCorrelateRejectsUnknownCategory(t *testing.T) {
	service := NewCorrelatorService(nil, &correlatorStub{}, nil, nil, nil)
	doc := insightDoc("a", "2026-05-01T12:00:00Z")
	doc["category"] = "mystery"

	_, err := service.Correlate(context.Background(), mustStruct(t, map[string]any{"insights": []any{doc}}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCorrelateFailures(t *testing.T) {
	empty := mustStruct(t, map[string]any{"insights": []any{}})

	_, err := NewCorrelatorService(nil, nil, nil, nil, nil).Correlate(context.Background(), empty)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = NewCorrelatorService(nil, &correlatorStub{err: errors.New("store down")}, nil, nil, nil).Correlate(context.Background(), empty)
	assert.Equal(t, codes.Internal, status.Code(err))

	_, err = NewCorrelatorService(nil, &correlatorStub{}, nil, nil, nil).Correlate(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDetectAnomaly(t *testing.T) {
	detector := &detectorStub{result: &models.AnomalyDetectionResult{
		ContainerID: "c-1", MetricType: "cpu", CurrentValue: 70, Mean: 25, StdDev: 11.18,
		ZScore: 4.03, IsAnomalous: true, Threshold: 2, Method: models.MethodZScore,
	}}
	service := NewCorrelatorService(nil, nil, detector, nil, nil)

	resp, err := service.DetectAnomaly(context.Background(), mustStruct(t, map[string]any{
		"container_id":  "c-1",
		"metric_type":   "cpu",
		"current_value": 70,
		"method":        "zscore",
	}))
	require.NoError(t, err)
	assert.Equal(t, models.MethodZScore, detector.method)
	result := resp.GetFields()["result"].GetStructValue()
	assert.True(t, result.GetFields()["is_anomalous"].GetBoolValue())
	assert.False(t, resp.GetFields()["insufficient_data"].GetBoolValue())
}

func TestDetectAnomalyInsufficientData(t *testing.T) {
	service := NewCorrelatorService(nil, nil, &detectorStub{}, nil, nil)
	resp, err := service.DetectAnomaly(context.Background(), mustStruct(t, map[string]any{
		"container_id": "c-1", "metric_type": "cpu", "current_value": 1,
	}))
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["insufficient_data"].GetBoolValue())
}

func TestDetectAnomalyErrors(t *testing.T) {
	service := NewCorrelatorService(nil, nil, &detectorStub{err: errors.New("timeout")}, nil, nil)
	_, err := service.DetectAnomaly(context.Background(), mustStruct(t, map[string]any{
		"container_id": "c-1", "metric_type": "cpu", "current_value": 1,
	}))
	assert.Equal(t, codes.Unavailable, status.Code(err))

	_, err = service.DetectAnomaly(context.Background(), mustStruct(t, map[string]any{
		"container_id": "c-1", "metric_type": "cpu", "method": "magic",
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

type cycleStub struct {
	got models.CycleRequest
	err error
}

func (c *cycleStub) Run(_ context.Context, req models.CycleRequest) (models.CycleResult, error) {
	c.got = req
	if c.err != nil {
		return models.CycleResult{}, c.err
	}
	return models.CycleResult{Outcome: models.CorrelationOutcome{InsightsUngrouped: len(req.Readings)}}, nil
}

func TestRunCycle(t *testing.T) {
	cycle := &cycleStub{}
	service := NewCorrelatorService(nil, nil, nil, cycle, nil)

	resp, err := service.RunCycle(context.Background(), mustStruct(t, map[string]any{
		"readings": []any{
			map[string]any{"container_id": "c-1", "metric_type": "cpu", "value": 70, "endpoint_id": 3},
		},
	}))
	require.NoError(t, err)
	require.Len(t, cycle.got.Readings, 1)
	require.NotNil(t, cycle.got.Readings[0].EndpointID)
	assert.Equal(t, 3, *cycle.got.Readings[0].EndpointID)
	outcome := resp.GetFields()["outcome"].GetStructValue()
	assert.Equal(t, 1.0, outcome.GetFields()["insights_ungrouped"].GetNumberValue())

	_, err = NewCorrelatorService(nil, nil, nil, &cycleStub{err: errors.New("boom")}, nil).RunCycle(context.Background(), mustStruct(t, map[string]any{}))
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestListIncidents(t *testing.T) {
	incidents := &incidentsStub{incidents: []models.Incident{{ID: "inc-1", Status: models.IncidentActive}}}
	service := NewCorrelatorService(nil, nil, nil, nil, incidents)

	resp, err := service.ListIncidents(context.Background(), mustStruct(t, map[string]any{"status": "active", "limit": 5}))
	require.NoError(t, err)
	assert.Equal(t, models.IncidentActive, incidents.status)
	assert.Equal(t, 5, incidents.limit)
	assert.Len(t, resp.GetFields()["incidents"].GetListValue().GetValues(), 1)

	_, err = service.ListIncidents(context.Background(), mustStruct(t, map[string]any{"status": "snoozed"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestResolveIncident(t *testing.T) {
	service := NewCorrelatorService(nil, nil, nil, nil, &incidentsStub{incidents: []models.Incident{{ID: "inc-1", Status: models.IncidentActive}}})

	resp, err := service.ResolveIncident(context.Background(), mustStruct(t, map[string]any{"incident_id": "inc-1"}))
	require.NoError(t, err)
	assert.Equal(t, "resolved", resp.GetFields()["status"].GetStringValue())

	_, err = service.ResolveIncident(context.Background(), mustStruct(t, map[string]any{"incident_id": "missing"}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = service.ResolveIncident(context.Background(), mustStruct(t, map[string]any{}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = NewCorrelatorService(nil, nil, nil, nil, nil).ResolveIncident(context.Background(), mustStruct(t, map[string]any{"incident_id": "inc-1"}))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}
