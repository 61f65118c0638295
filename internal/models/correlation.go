package models

import "time"

// CorrelationType records which grouping pass produced an incident.
type CorrelationType string

const (
	CorrelationDedup    CorrelationType = "dedup"
	CorrelationCascade  CorrelationType = "cascade"
	CorrelationTemporal CorrelationType = "temporal"
	CorrelationSemantic CorrelationType = "semantic"
)

// Confidence captures how strongly the grouped insights are believed to share a root cause.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// IncidentStatus tracks externally driven incident closure.
type IncidentStatus string

const (
	IncidentActive   IncidentStatus = "active"
	IncidentResolved IncidentStatus = "resolved"
)

// Incident groups related insights believed to share a root cause.
type Incident struct {
	ID                    string
	Title                 string
	Severity              Severity
	Status                IncidentStatus
	RootCauseInsightID    string
	RelatedInsightIDs     []string
	AffectedContainers    []string
	EndpointID            *int
	EndpointName          string
	CorrelationType       CorrelationType
	CorrelationConfidence Confidence
	InsightCount          int
	Summary               string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ResolvedAt            *time.Time
}

// InsightLink attaches one insight to an incident; ContainerID drives active-incident lookups.
type InsightLink struct {
	InsightID     string
	ContainerID   string
	ContainerName string
}

// IncidentInsert is the write model handed to the incident store when a group materialises.
type IncidentInsert struct {
	Incident Incident
	Links    []InsightLink
}

// CorrelationOutcome summarises one Correlate invocation.
type CorrelationOutcome struct {
	IncidentsCreated  int
	InsightsGrouped   int
	InsightsUngrouped int
}

// Total returns the number of insights accounted for.
func (o CorrelationOutcome) Total() int {
	return o.InsightsGrouped + o.InsightsUngrouped
}
