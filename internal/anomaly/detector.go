package anomaly

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

const (
	// autoSelectMinSamples is the history length below which auto-selection always uses zscore.
	autoSelectMinSamples = 20
	// bollingerWidth is the band half-width in standard deviations.
	bollingerWidth = 2.0
	// zeroVarianceRelTolerance and zeroVarianceAbsTolerance bound "no change" on a flat signal.
	zeroVarianceRelTolerance = 0.1
	zeroVarianceAbsTolerance = 0.01
)

// StatsProvider returns rolling statistics for one container metric.
type StatsProvider interface {
	GetStats(ctx context.Context, containerID, metricType string, window time.Duration) (models.AnomalyStats, error)
}

// Config tunes the detector.
type Config struct {
	Window           time.Duration
	MinSamples       int
	ZScoreThreshold  float64
	DefaultMethod    models.DetectionMethod
	BollingerEnabled bool
}

// Detector turns a current metric value plus its recent history into an anomaly verdict.
type Detector struct {
	stats StatsProvider
	cfg   Config
	now   func() time.Time
}

// NewDetector constructs a Detector. Zero config values fall back to a 30 minute window,
// 10 samples, a 3.0 threshold and auto method selection.
func NewDetector(stats StatsProvider, cfg Config) *Detector {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.ZScoreThreshold <= 0 {
		cfg.ZScoreThreshold = 3.0
	}
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = models.MethodAuto
	}
	return &Detector{stats: stats, cfg: cfg, now: time.Now}
}

// Detect fetches the window statistics and evaluates currentValue against them.
// It returns (nil, nil) when the history holds fewer than MinSamples samples.
func (d *Detector) Detect(ctx context.Context, containerID, containerName, metricType string, currentValue float64, requested models.DetectionMethod) (*models.AnomalyDetectionResult, error) {
	if d.stats == nil {
		return nil, fmt.Errorf("stats provider not configured")
	}
	stats, err := d.stats.GetStats(ctx, containerID, metricType, d.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("fetch stats for %s/%s: %w", containerID, metricType, err)
	}
	if stats.SampleCount < d.cfg.MinSamples {
		return nil, nil
	}

	verdict := d.Evaluate(stats, currentValue, requested)
	return &models.AnomalyDetectionResult{
		ContainerID:   containerID,
		ContainerName: containerName,
		MetricType:    metricType,
		CurrentValue:  currentValue,
		Mean:          stats.Mean,
		StdDev:        stats.StdDev,
		ZScore:        verdict.ZScore,
		IsAnomalous:   verdict.Anomalous,
		Threshold:     verdict.Threshold,
		Method:        verdict.Method,
		Timestamp:     d.now().UTC(),
	}, nil
}

// Verdict is the outcome of evaluating one value against window statistics.
type Verdict struct {
	Method    models.DetectionMethod
	ZScore    float64
	Threshold float64
	Anomalous bool
}

// Evaluate applies the resolved method to currentValue. It has no side effects.
func (d *Detector) Evaluate(stats models.AnomalyStats, currentValue float64, requested models.DetectionMethod) Verdict {
	method := d.ResolveMethod(stats, requested)
	cv := coefficientOfVariation(stats)

	if stats.StdDev == 0 {
		v := zeroVariance(stats.Mean, currentValue)
		v.Method = method
		return v
	}

	z := (currentValue - stats.Mean) / stats.StdDev
	v := Verdict{Method: method, ZScore: round2(z)}

	switch method {
	case models.MethodBollinger:
		upper := stats.Mean + bollingerWidth*stats.StdDev
		lower := math.Max(0, stats.Mean-bollingerWidth*stats.StdDev)
		v.Threshold = bollingerWidth
		v.Anomalous = currentValue > upper || currentValue < lower
	case models.MethodAdaptive:
		v.Threshold = adaptiveThreshold(d.cfg.ZScoreThreshold, cv)
		v.Anomalous = math.Abs(z) > v.Threshold
	default:
		v.Threshold = d.cfg.ZScoreThreshold
		v.Anomalous = math.Abs(z) > v.Threshold
	}
	return v
}

// ResolveMethod picks the method actually applied for a request.
func (d *Detector) ResolveMethod(stats models.AnomalyStats, requested models.DetectionMethod) models.DetectionMethod {
	method := requested
	if method == "" {
		method = d.cfg.DefaultMethod
	}
	if method == models.MethodAuto || method == "" {
		method = autoSelect(stats)
	}
	if method == models.MethodBollinger && !d.cfg.BollingerEnabled {
		return models.MethodZScore
	}
	switch method {
	case models.MethodZScore, models.MethodBollinger, models.MethodAdaptive:
		return method
	default:
		return models.MethodZScore
	}
}

func autoSelect(stats models.AnomalyStats) models.DetectionMethod {
	if stats.SampleCount < autoSelectMinSamples {
		return models.MethodZScore
	}
	cv := coefficientOfVariation(stats)
	switch {
	case cv < 0.1:
		return models.MethodBollinger
	case cv > 0.3:
		return models.MethodAdaptive
	default:
		return models.MethodZScore
	}
}

// adaptiveThreshold widens the threshold for noisy signals. The lowest tier is ×1.2, not ×1.0.
func adaptiveThreshold(base, cv float64) float64 {
	switch {
	case cv > 0.5:
		return base * 1.5
	case cv > 0.2:
		return base
	default:
		return base * 1.2
	}
}

func zeroVariance(mean, current float64) Verdict {
	tolerance := math.Max(math.Abs(mean)*zeroVarianceRelTolerance, zeroVarianceAbsTolerance)
	delta := math.Abs(current - mean)
	v := Verdict{Threshold: tolerance}
	if delta > tolerance {
		v.Anomalous = true
		v.ZScore = round2(delta / tolerance)
	}
	return v
}

// coefficientOfVariation is NaN for an all-zero history, so auto-selection falls through to zscore.
func coefficientOfVariation(stats models.AnomalyStats) float64 {
	if stats.Mean == 0 {
		if stats.StdDev == 0 {
			return math.NaN()
		}
		return math.Inf(1)
	}
	return stats.StdDev / math.Abs(stats.Mean)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
