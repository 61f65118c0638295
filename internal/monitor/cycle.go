package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-correlator/internal/correlation"
	"github.com/miradorstack/mirador-correlator/internal/metrics"
	"github.com/miradorstack/mirador-correlator/internal/models"
)

// Detector evaluates one metric sample.
type Detector interface {
	Detect(ctx context.Context, containerID, containerName, metricType string, currentValue float64, requested models.DetectionMethod) (*models.AnomalyDetectionResult, error)
}

// Correlator groups an ordered insight batch into incidents.
type Correlator interface {
	Correlate(ctx context.Context, insights []models.Insight, windowMinutes int, finder correlation.SimilarityFinder) (models.CorrelationOutcome, error)
}

// Cycle runs one monitoring pass: detect, build insights, correlate.
type Cycle struct {
	detector   Detector
	correlator Correlator
	actions    *ActionRules
	logger     *slog.Logger
	now        func() time.Time
}

// NewCycle wires a monitoring cycle. actions may be nil.
func NewCycle(detector Detector, correlator Correlator, actions *ActionRules, logger *slog.Logger) *Cycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cycle{
		detector:   detector,
		correlator: correlator,
		actions:    actions,
		logger:     logger,
		now:        time.Now,
	}
}

// Run evaluates every reading, turns anomalous results into insights, merges them with the
// supplied insights earliest first and correlates the batch. A reading that fails detection is
// logged and skipped.
func (c *Cycle) Run(ctx context.Context, req models.CycleRequest) (models.CycleResult, error) {
	var result models.CycleResult
	if c.detector == nil || c.correlator == nil {
		return result, fmt.Errorf("monitoring cycle not configured")
	}

	built := make([]models.Insight, 0)
	for _, reading := range req.Readings {
		detection, err := c.detector.Detect(ctx, reading.ContainerID, reading.ContainerName, reading.MetricType, reading.Value, "")
		if err != nil {
			c.logger.Warn("anomaly detection failed",
				slog.String("container_id", reading.ContainerID),
				slog.String("metric", reading.MetricType),
				slog.Any("error", err),
			)
			continue
		}
		if detection == nil {
			c.logger.Debug("insufficient history for detection",
				slog.String("container_id", reading.ContainerID),
				slog.String("metric", reading.MetricType),
			)
			continue
		}

		metrics.ObserveDetection(string(detection.Method), detection.IsAnomalous)
		result.Detections = append(result.Detections, *detection)
		if !detection.IsAnomalous {
			continue
		}

		insight := BuildInsight(*detection, reading, c.now())
		insight.SuggestedAction = c.actions.Suggest(insight)
		built = append(built, insight)
	}

	batch := make([]models.Insight, 0, len(built)+len(req.Insights))
	batch = append(batch, built...)
	batch = append(batch, req.Insights...)
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].CreatedAt.Before(batch[j].CreatedAt)
	})
	result.Insights = built

	outcome, err := c.correlator.Correlate(ctx, batch, req.WindowMinutes, nil)
	if err != nil {
		return result, fmt.Errorf("correlate cycle: %w", err)
	}
	result.Outcome = outcome

	c.logger.Info("monitoring cycle complete",
		slog.Int("readings", len(req.Readings)),
		slog.Int("detections", len(result.Detections)),
		slog.Int("anomalies", len(built)),
		slog.Int("incidents_created", outcome.IncidentsCreated),
	)
	return result, nil
}

// BuildInsight renders an anomalous detection as an anomaly insight.
func BuildInsight(detection models.AnomalyDetectionResult, reading models.MetricReading, now time.Time) models.Insight {
	name := detection.ContainerName
	if name == "" {
		name = detection.ContainerID
	}
	return models.Insight{
		ID:            uuid.NewString(),
		EndpointID:    reading.EndpointID,
		EndpointName:  reading.EndpointName,
		ContainerID:   detection.ContainerID,
		ContainerName: detection.ContainerName,
		MetricType:    detection.MetricType,
		Severity:      severityFor(detection),
		Category:      models.CategoryAnomaly,
		Title:         fmt.Sprintf("Anomalous %s usage on \"%s\"", detection.MetricType, name),
		Description: fmt.Sprintf("Current %s value %.2f against a mean of %.2f (stddev %.2f): z-score %.2f, %s threshold %.2f.",
			detection.MetricType, detection.CurrentValue, detection.Mean, detection.StdDev, detection.ZScore, detection.Method, detection.Threshold),
		CreatedAt: now.UTC(),
	}
}

// severityFor escalates to critical once the deviation clears the threshold by a full unit.
// Flat signals report z as multiples of the tolerance, so there the bar is twice the tolerance.
func severityFor(detection models.AnomalyDetectionResult) models.Severity {
	z := math.Abs(detection.ZScore)
	if detection.StdDev == 0 {
		if z >= 2 {
			return models.SeverityCritical
		}
		return models.SeverityWarning
	}
	if z >= detection.Threshold+1 {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}
