package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

type fakeStats struct {
	stats  models.AnomalyStats
	err    error
	window time.Duration
}

func (f *fakeStats) GetStats(_ context.Context, _, _ string, window time.Duration) (models.AnomalyStats, error) {
	f.window = window
	return f.stats, f.err
}

func newTestDetector(stats models.AnomalyStats, cfg Config) (*Detector, *fakeStats) {
	provider := &fakeStats{stats: stats}
	d := NewDetector(provider, cfg)
	d.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return d, provider
}

func TestDetectWorkedExample(t *testing.T) {
	d, provider := newTestDetector(
		models.AnomalyStats{Mean: 25, StdDev: 11.18, SampleCount: 4},
		Config{Window: 15 * time.Minute, MinSamples: 4, ZScoreThreshold: 2.0},
	)
	ctx := context.Background()

	res, err := d.Detect(ctx, "c-1", "api", "cpu", 40, models.MethodZScore)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1.34, res.ZScore)
	assert.False(t, res.IsAnomalous)
	assert.Equal(t, models.MethodZScore, res.Method)
	assert.Equal(t, 2.0, res.Threshold)
	assert.Equal(t, 15*time.Minute, provider.window)

	res, err = d.Detect(ctx, "c-1", "api", "cpu", 70, "")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 4.03, res.ZScore)
	assert.True(t, res.IsAnomalous)
	// fewer than 20 samples forces zscore under auto selection
	assert.Equal(t, models.MethodZScore, res.Method)
	assert.Equal(t, "api", res.ContainerName)
	assert.Equal(t, 70.0, res.CurrentValue)
}

func TestDetectWorkedExampleFromSeries(t *testing.T) {
	stats := ComputeStats(series(10, 20, 30, 40))
	assert.Equal(t, 25.0, stats.Mean)
	assert.InDelta(t, 11.18, stats.StdDev, 0.01)
	assert.Equal(t, 4, stats.SampleCount)

	d, _ := newTestDetector(stats, Config{MinSamples: 4, ZScoreThreshold: 2.0})
	v := d.Evaluate(stats, 70, models.MethodZScore)
	assert.True(t, v.Anomalous)
	assert.InDelta(t, 4.03, v.ZScore, 0.011)
}

func TestDetectInsufficientData(t *testing.T) {
	d, _ := newTestDetector(models.AnomalyStats{Mean: 10, StdDev: 1, SampleCount: 9}, Config{MinSamples: 10})
	res, err := d.Detect(context.Background(), "c-1", "api", "cpu", 100, "")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestDetectStatsError(t *testing.T) {
	d := NewDetector(&fakeStats{err: errors.New("tsdb down")}, Config{})
	_, err := d.Detect(context.Background(), "c-1", "api", "cpu", 1, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tsdb down")

	_, err = NewDetector(nil, Config{}).Detect(context.Background(), "c-1", "api", "cpu", 1, "")
	assert.Error(t, err)
}

func TestZeroVariance(t *testing.T) {
	flat := models.AnomalyStats{Mean: 50, StdDev: 0, SampleCount: 30}
	d, _ := newTestDetector(flat, Config{MinSamples: 5, ZScoreThreshold: 3})

	for _, method := range []models.DetectionMethod{"", models.MethodZScore, models.MethodBollinger, models.MethodAdaptive} {
		v := d.Evaluate(flat, 50, method)
		assert.False(t, v.Anomalous, "method %q", method)
		assert.Zero(t, v.ZScore)
		assert.Equal(t, 5.0, v.Threshold)
	}

	v := d.Evaluate(flat, 54.9, models.MethodZScore)
	assert.False(t, v.Anomalous)

	v = d.Evaluate(flat, 60, models.MethodZScore)
	assert.True(t, v.Anomalous)
	assert.Equal(t, 2.0, v.ZScore)
}

func TestZeroVarianceAtZeroMeanUsesAbsoluteFloor(t *testing.T) {
	flat := models.AnomalyStats{Mean: 0, StdDev: 0, SampleCount: 30}
	d, _ := newTestDetector(flat, Config{BollingerEnabled: true})

	assert.False(t, d.Evaluate(flat, 0.005, "").Anomalous)
	v := d.Evaluate(flat, 0.02, "")
	assert.True(t, v.Anomalous)
	assert.Equal(t, 0.01, v.Threshold)
	assert.Equal(t, 2.0, v.ZScore)
	assert.Equal(t, models.MethodZScore, v.Method)
}

func TestResolveMethod(t *testing.T) {
	cases := []struct {
		name      string
		stats     models.AnomalyStats
		requested models.DetectionMethod
		bollinger bool
		want      models.DetectionMethod
	}{
		{"requested bollinger disabled", models.AnomalyStats{Mean: 10, StdDev: 0.5, SampleCount: 50}, models.MethodBollinger, false, models.MethodZScore},
		{"requested bollinger enabled", models.AnomalyStats{Mean: 10, StdDev: 5, SampleCount: 50}, models.MethodBollinger, true, models.MethodBollinger},
		{"requested adaptive honoured", models.AnomalyStats{Mean: 10, StdDev: 0.1, SampleCount: 5}, models.MethodAdaptive, true, models.MethodAdaptive},
		{"auto few samples", models.AnomalyStats{Mean: 10, StdDev: 0.1, SampleCount: 19}, "", true, models.MethodZScore},
		{"auto stable", models.AnomalyStats{Mean: 10, StdDev: 0.5, SampleCount: 20}, "", true, models.MethodBollinger},
		{"auto stable bollinger disabled", models.AnomalyStats{Mean: 10, StdDev: 0.5, SampleCount: 20}, models.MethodAuto, false, models.MethodZScore},
		{"auto noisy", models.AnomalyStats{Mean: 10, StdDev: 4, SampleCount: 20}, "", true, models.MethodAdaptive},
		{"auto middle", models.AnomalyStats{Mean: 10, StdDev: 2, SampleCount: 20}, "", true, models.MethodZScore},
		{"auto all-zero history", models.AnomalyStats{Mean: 0, StdDev: 0, SampleCount: 30}, "", true, models.MethodZScore},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, _ := newTestDetector(tc.stats, Config{BollingerEnabled: tc.bollinger})
			assert.Equal(t, tc.want, d.ResolveMethod(tc.stats, tc.requested))
		})
	}
}

func TestBollingerBands(t *testing.T) {
	stats := models.AnomalyStats{Mean: 10, StdDev: 0.5, SampleCount: 40}
	d, _ := newTestDetector(stats, Config{BollingerEnabled: true, ZScoreThreshold: 3})

	v := d.Evaluate(stats, 10.9, "")
	assert.Equal(t, models.MethodBollinger, v.Method)
	assert.False(t, v.Anomalous)
	assert.Equal(t, 1.8, v.ZScore)

	v = d.Evaluate(stats, 11.2, "")
	assert.True(t, v.Anomalous)
	assert.Equal(t, 2.4, v.ZScore)

	v = d.Evaluate(stats, 8.5, models.MethodBollinger)
	assert.True(t, v.Anomalous)
}

func TestBollingerLowerBandFlooredAtZero(t *testing.T) {
	stats := models.AnomalyStats{Mean: 1, StdDev: 0.8, SampleCount: 40}
	d, _ := newTestDetector(stats, Config{BollingerEnabled: true})

	// mean - 2σ is negative, so a zero reading is inside the bands
	v := d.Evaluate(stats, 0, models.MethodBollinger)
	assert.False(t, v.Anomalous)
	assert.Equal(t, -1.25, v.ZScore)
}

func TestAdaptiveThresholdTiers(t *testing.T) {
	assert.Equal(t, 4.5, adaptiveThreshold(3, 0.6))
	assert.Equal(t, 3.0, adaptiveThreshold(3, 0.3))
	assert.InDelta(t, 3.6, adaptiveThreshold(3, 0.2), 1e-9)
	assert.InDelta(t, 3.6, adaptiveThreshold(3, 0.05), 1e-9)

	stats := models.AnomalyStats{Mean: 10, StdDev: 6, SampleCount: 40}
	d, _ := newTestDetector(stats, Config{ZScoreThreshold: 3})
	v := d.Evaluate(stats, 36, "")
	assert.Equal(t, models.MethodAdaptive, v.Method)
	assert.Equal(t, 4.5, v.Threshold)
	assert.False(t, v.Anomalous)

	v = d.Evaluate(stats, 40, "")
	assert.True(t, v.Anomalous)
}
