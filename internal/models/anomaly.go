package models

import "time"

// DetectionMethod selects the statistical test applied to a metric sample.
type DetectionMethod string

const (
	MethodAuto      DetectionMethod = "auto"
	MethodZScore    DetectionMethod = "zscore"
	MethodBollinger DetectionMethod = "bollinger"
	MethodAdaptive  DetectionMethod = "adaptive"
)

// ParseDetectionMethod maps a wire value onto a method; empty means no preference.
func ParseDetectionMethod(value string) (DetectionMethod, bool) {
	switch m := DetectionMethod(value); m {
	case "":
		return "", true
	case MethodAuto, MethodZScore, MethodBollinger, MethodAdaptive:
		return m, true
	default:
		return "", false
	}
}

// AnomalyStats holds rolling statistics for one container metric over a window.
type AnomalyStats struct {
	Mean        float64
	StdDev      float64
	SampleCount int
}

// AnomalyDetectionResult is the verdict for a single metric sample.
type AnomalyDetectionResult struct {
	ContainerID   string
	ContainerName string
	MetricType    string
	CurrentValue  float64
	Mean          float64
	StdDev        float64
	ZScore        float64
	IsAnomalous   bool
	Threshold     float64
	Method        DetectionMethod
	Timestamp     time.Time
}
