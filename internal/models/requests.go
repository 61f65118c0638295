package models

// CorrelateRequest is a batch of insights submitted for one monitoring cycle.
type CorrelateRequest struct {
	Insights      []Insight
	WindowMinutes int
}

// DetectRequest asks for a verdict on one metric sample.
type DetectRequest struct {
	ContainerID     string
	ContainerName   string
	MetricType      string
	CurrentValue    float64
	RequestedMethod DetectionMethod
}

// MetricReading is one current sample collected by a monitoring cycle.
type MetricReading struct {
	ContainerID   string
	ContainerName string
	EndpointID    *int
	EndpointName  string
	MetricType    string
	Value         float64
}

// CycleRequest carries the readings and extra insights of one monitoring cycle.
type CycleRequest struct {
	Readings      []MetricReading
	Insights      []Insight
	WindowMinutes int
}

// CycleResult reports the detections and correlation outcome of one cycle.
type CycleResult struct {
	Detections []AnomalyDetectionResult
	Insights   []Insight
	Outcome    CorrelationOutcome
}

// ListIncidentsRequest filters stored incidents.
type ListIncidentsRequest struct {
	Status IncidentStatus
	Limit  int
}
