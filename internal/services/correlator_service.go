package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-correlator/internal/api"
	"github.com/miradorstack/mirador-correlator/internal/correlation"
	"github.com/miradorstack/mirador-correlator/internal/metrics"
	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/store"
	"github.com/miradorstack/mirador-correlator/internal/utils"
)

// Correlator groups an ordered insight batch into incidents.
type Correlator interface {
	Correlate(ctx context.Context, insights []models.Insight, windowMinutes int, finder correlation.SimilarityFinder) (models.CorrelationOutcome, error)
}

// AnomalyDetector evaluates one metric sample.
type AnomalyDetector interface {
	Detect(ctx context.Context, containerID, containerName, metricType string, currentValue float64, requested models.DetectionMethod) (*models.AnomalyDetectionResult, error)
}

// CycleRunner executes one monitoring cycle.
type CycleRunner interface {
	Run(ctx context.Context, req models.CycleRequest) (models.CycleResult, error)
}

// IncidentReader exposes stored incidents to operators.
type IncidentReader interface {
	ListIncidents(ctx context.Context, status models.IncidentStatus, limit int) ([]models.Incident, error)
	ResolveIncident(ctx context.Context, id string) (*models.Incident, error)
}

// CorrelatorService implements the gRPC Correlator service.
type CorrelatorService struct {
	api.UnimplementedCorrelatorServer

	logger     *slog.Logger
	correlator Correlator
	detector   AnomalyDetector
	cycle      CycleRunner
	incidents  IncidentReader
	latencies  *utils.LatencyTracker
}

// NewCorrelatorService constructs the service facade. Any collaborator may be nil; the
// matching RPCs then fail with FailedPrecondition.
func NewCorrelatorService(logger *slog.Logger, correlator Correlator, detector AnomalyDetector, cycle CycleRunner, incidents IncidentReader) *CorrelatorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrelatorService{
		logger:     logger,
		correlator: correlator,
		detector:   detector,
		cycle:      cycle,
		incidents:  incidents,
		latencies:  utils.NewLatencyTracker(1024),
	}
}

// Correlate groups the submitted insights into incidents.
func (s *CorrelatorService) Correlate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.correlator == nil {
		return nil, status.Error(codes.FailedPrecondition, "correlation engine not configured")
	}

	domainReq, err := api.FromStructCorrelateRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sort.SliceStable(domainReq.Insights, func(i, j int) bool {
		return domainReq.Insights[i].CreatedAt.Before(domainReq.Insights[j].CreatedAt)
	})

	s.logger.Debug("Correlate called", slog.Int("insights", len(domainReq.Insights)), slog.Int("window_minutes", domainReq.WindowMinutes))

	start := time.Now()
	outcome, err := s.correlator.Correlate(ctx, domainReq.Insights, domainReq.WindowMinutes, nil)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveCorrelation(duration, metrics.OutcomeError)
		s.logger.Error("correlation failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "correlation failed")
	}
	metrics.ObserveCorrelation(duration, metrics.OutcomeSuccess)
	s.observeLatency(duration)

	resp, err := api.ToStructOutcome(outcome)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// DetectAnomaly evaluates one metric sample against its recent history.
func (s *CorrelatorService) DetectAnomaly(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.detector == nil {
		return nil, status.Error(codes.FailedPrecondition, "anomaly detector not configured")
	}

	domainReq, err := api.FromStructDetectRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.detector.Detect(ctx, domainReq.ContainerID, domainReq.ContainerName, domainReq.MetricType, domainReq.CurrentValue, domainReq.RequestedMethod)
	if err != nil {
		s.logger.Warn("anomaly detection failed",
			slog.String("container_id", domainReq.ContainerID),
			slog.String("metric", domainReq.MetricType),
			slog.Any("error", err),
		)
		return nil, status.Error(codes.Unavailable, "metric history unavailable")
	}
	if result != nil {
		metrics.ObserveDetection(string(result.Method), result.IsAnomalous)
	}

	resp, err := api.ToStructDetection(result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// RunCycle detects anomalies across the supplied readings and correlates the result.
func (s *CorrelatorService) RunCycle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.cycle == nil {
		return nil, status.Error(codes.FailedPrecondition, "monitoring cycle not configured")
	}

	domainReq, err := api.FromStructCycleRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	result, err := s.cycle.Run(ctx, domainReq)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveCorrelation(duration, metrics.OutcomeError)
		s.logger.Error("monitoring cycle failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "monitoring cycle failed")
	}
	metrics.ObserveCorrelation(duration, metrics.OutcomeSuccess)
	s.observeLatency(duration)

	resp, err := api.ToStructCycleResult(result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// ListIncidents returns stored incidents, newest first.
func (s *CorrelatorService) ListIncidents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.incidents == nil {
		return nil, status.Error(codes.FailedPrecondition, "incident store not configured")
	}

	domainReq, err := api.FromStructListIncidentsRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	incidents, err := s.incidents.ListIncidents(ctx, domainReq.Status, domainReq.Limit)
	if err != nil {
		s.logger.Error("list incidents failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to list incidents")
	}

	resp, err := api.ToStructIncidentList(incidents)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// ResolveIncident closes an incident so later insights open a new one.
func (s *CorrelatorService) ResolveIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.incidents == nil {
		return nil, status.Error(codes.FailedPrecondition, "incident store not configured")
	}

	id, err := api.FromStructResolveRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	incident, err := s.incidents.ResolveIncident(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "incident %s not found", id)
		}
		s.logger.Error("resolve incident failed", slog.String("incident_id", id), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to resolve incident")
	}
	s.logger.Info("incident resolved", slog.String("incident_id", id))

	resp, err := api.ToStructIncident(*incident)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func (s *CorrelatorService) observeLatency(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("correlation latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}
}
