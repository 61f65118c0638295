package anomaly

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/miradorstack/mirador-correlator/internal/cache"
	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/repo"
)

// SeriesSource reads raw container metric history.
type SeriesSource interface {
	FetchContainerSeries(ctx context.Context, containerID, metricType string, start, end time.Time) ([]repo.MetricPoint, error)
}

// ComputeStats returns the population mean and standard deviation of a series.
func ComputeStats(series []repo.MetricPoint) models.AnomalyStats {
	if len(series) == 0 {
		return models.AnomalyStats{}
	}

	mean := 0.0
	for _, point := range series {
		mean += point.Value
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, point := range series {
		variance += math.Pow(point.Value-mean, 2)
	}
	variance /= float64(len(series))

	return models.AnomalyStats{
		Mean:        mean,
		StdDev:      math.Sqrt(variance),
		SampleCount: len(series),
	}
}

// SeriesStatsProvider computes window statistics from a SeriesSource, caching them briefly.
type SeriesStatsProvider struct {
	source SeriesSource
	cache  cache.Provider
	ttl    time.Duration
	now    func() time.Time
}

// NewSeriesStatsProvider wires a SeriesSource behind an optional cache.
func NewSeriesStatsProvider(source SeriesSource, cacheProvider cache.Provider, ttl time.Duration) *SeriesStatsProvider {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &SeriesStatsProvider{source: source, cache: cacheProvider, ttl: ttl, now: time.Now}
}

// GetStats implements StatsProvider.
func (p *SeriesStatsProvider) GetStats(ctx context.Context, containerID, metricType string, window time.Duration) (models.AnomalyStats, error) {
	if p.source == nil {
		return models.AnomalyStats{}, fmt.Errorf("series source not configured")
	}

	key := fmt.Sprintf("stats:%s:%s:%d", containerID, metricType, int64(window/time.Second))
	var stats models.AnomalyStats
	if p.ttl > 0 {
		if err := cache.GetJSON(ctx, p.cache, key, &stats); err == nil {
			return stats, nil
		}
	}

	end := p.now()
	series, err := p.source.FetchContainerSeries(ctx, containerID, metricType, end.Add(-window), end)
	if err != nil {
		return models.AnomalyStats{}, err
	}
	stats = ComputeStats(series)

	if p.ttl > 0 {
		_ = cache.SetJSON(ctx, p.cache, key, stats, p.ttl)
	}
	return stats, nil
}
