package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/utils"
)

type insightDoc struct {
	ID              string `json:"id"`
	EndpointID      *int   `json:"endpoint_id,omitempty"`
	EndpointName    string `json:"endpoint_name,omitempty"`
	ContainerID     string `json:"container_id,omitempty"`
	ContainerName   string `json:"container_name,omitempty"`
	MetricType      string `json:"metric_type,omitempty"`
	Severity        string `json:"severity"`
	Category        string `json:"category"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	SuggestedAction string `json:"suggested_action,omitempty"`
	CreatedAt       string `json:"created_at"`
	Acknowledged    bool   `json:"acknowledged,omitempty"`
}

type correlateDoc struct {
	Insights      []insightDoc `json:"insights"`
	WindowMinutes int          `json:"window_minutes,omitempty"`
}

type detectDoc struct {
	ContainerID   string  `json:"container_id"`
	ContainerName string  `json:"container_name,omitempty"`
	MetricType    string  `json:"metric_type"`
	CurrentValue  float64 `json:"current_value"`
	Method        string  `json:"method,omitempty"`
}

type readingDoc struct {
	ContainerID   string  `json:"container_id"`
	ContainerName string  `json:"container_name,omitempty"`
	EndpointID    *int    `json:"endpoint_id,omitempty"`
	EndpointName  string  `json:"endpoint_name,omitempty"`
	MetricType    string  `json:"metric_type"`
	Value         float64 `json:"value"`
}

type cycleDoc struct {
	Readings      []readingDoc `json:"readings"`
	Insights      []insightDoc `json:"insights,omitempty"`
	WindowMinutes int          `json:"window_minutes,omitempty"`
}

type listDoc struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type resolveDoc struct {
	IncidentID string `json:"incident_id"`
}

type outcomeDoc struct {
	IncidentsCreated  int `json:"incidents_created"`
	InsightsGrouped   int `json:"insights_grouped"`
	InsightsUngrouped int `json:"insights_ungrouped"`
}

type detectionDoc struct {
	ContainerID   string  `json:"container_id"`
	ContainerName string  `json:"container_name,omitempty"`
	MetricType    string  `json:"metric_type"`
	CurrentValue  float64 `json:"current_value"`
	Mean          float64 `json:"mean"`
	StdDev        float64 `json:"stddev"`
	ZScore        float64 `json:"zscore"`
	IsAnomalous   bool    `json:"is_anomalous"`
	Threshold     float64 `json:"threshold"`
	Method        string  `json:"method"`
	Timestamp     string  `json:"timestamp"`
}

type detectResponseDoc struct {
	InsufficientData bool          `json:"insufficient_data"`
	Result           *detectionDoc `json:"result,omitempty"`
}

type cycleResultDoc struct {
	Detections []detectionDoc `json:"detections"`
	Insights   []insightDoc   `json:"insights"`
	Outcome    outcomeDoc     `json:"outcome"`
}

type incidentDoc struct {
	ID                    string   `json:"id"`
	Title                 string   `json:"title"`
	Severity              string   `json:"severity"`
	Status                string   `json:"status"`
	RootCauseInsightID    string   `json:"root_cause_insight_id"`
	RelatedInsightIDs     []string `json:"related_insight_ids"`
	AffectedContainers    []string `json:"affected_containers"`
	EndpointID            *int     `json:"endpoint_id,omitempty"`
	EndpointName          string   `json:"endpoint_name,omitempty"`
	CorrelationType       string   `json:"correlation_type"`
	CorrelationConfidence string   `json:"correlation_confidence"`
	InsightCount          int      `json:"insight_count"`
	Summary               string   `json:"summary"`
	CreatedAt             string   `json:"created_at"`
	UpdatedAt             string   `json:"updated_at"`
	ResolvedAt            string   `json:"resolved_at,omitempty"`
}

type incidentListDoc struct {
	Incidents []incidentDoc `json:"incidents"`
}

func decode(op string, in *structpb.Struct, out any) error {
	if in == nil {
		return utils.NewAppError(op, "request is nil", nil)
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return utils.NewAppError(op, "request is not valid JSON", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return utils.NewAppError(op, fmt.Sprintf("malformed request: %v", err), err)
	}
	return nil
}

func encode(doc any) (*structpb.Struct, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

// FromStructCorrelateRequest maps a Correlate request document into the domain request.
func FromStructCorrelateRequest(in *structpb.Struct) (models.CorrelateRequest, error) {
	const op = "decode correlate request"
	var doc correlateDoc
	if err := decode(op, in, &doc); err != nil {
		return models.CorrelateRequest{}, err
	}
	if doc.WindowMinutes < 0 {
		return models.CorrelateRequest{}, utils.NewAppError(op, "window_minutes must not be negative", nil)
	}
	insights, err := fromInsightDocs(op, doc.Insights)
	if err != nil {
		return models.CorrelateRequest{}, err
	}
	return models.CorrelateRequest{Insights: insights, WindowMinutes: doc.WindowMinutes}, nil
}

// FromStructDetectRequest maps a DetectAnomaly request document into the domain request.
func FromStructDetectRequest(in *structpb.Struct) (models.DetectRequest, error) {
	const op = "decode detect request"
	var doc detectDoc
	if err := decode(op, in, &doc); err != nil {
		return models.DetectRequest{}, err
	}
	if strings.TrimSpace(doc.ContainerID) == "" {
		return models.DetectRequest{}, utils.NewAppError(op, "container_id is required", nil)
	}
	if strings.TrimSpace(doc.MetricType) == "" {
		return models.DetectRequest{}, utils.NewAppError(op, "metric_type is required", nil)
	}
	method, ok := models.ParseDetectionMethod(doc.Method)
	if !ok {
		return models.DetectRequest{}, utils.NewAppError(op, fmt.Sprintf("method %q is not supported", doc.Method), nil)
	}
	return models.DetectRequest{
		ContainerID:     doc.ContainerID,
		ContainerName:   doc.ContainerName,
		MetricType:      doc.MetricType,
		CurrentValue:    doc.CurrentValue,
		RequestedMethod: method,
	}, nil
}

// FromStructCycleRequest maps a RunCycle request document into the domain request.
func FromStructCycleRequest(in *structpb.Struct) (models.CycleRequest, error) {
	const op = "decode cycle request"
	var doc cycleDoc
	if err := decode(op, in, &doc); err != nil {
		return models.CycleRequest{}, err
	}
	if doc.WindowMinutes < 0 {
		return models.CycleRequest{}, utils.NewAppError(op, "window_minutes must not be negative", nil)
	}

	readings := make([]models.MetricReading, 0, len(doc.Readings))
	for i, r := range doc.Readings {
		if r.ContainerID == "" || r.MetricType == "" {
			return models.CycleRequest{}, utils.NewAppError(op, fmt.Sprintf("readings[%d] needs container_id and metric_type", i), nil)
		}
		readings = append(readings, models.MetricReading{
			ContainerID:   r.ContainerID,
			ContainerName: r.ContainerName,
			EndpointID:    r.EndpointID,
			EndpointName:  r.EndpointName,
			MetricType:    r.MetricType,
			Value:         r.Value,
		})
	}
	insights, err := fromInsightDocs(op, doc.Insights)
	if err != nil {
		return models.CycleRequest{}, err
	}
	return models.CycleRequest{Readings: readings, Insights: insights, WindowMinutes: doc.WindowMinutes}, nil
}

// FromStructListIncidentsRequest maps a ListIncidents request document into the domain request.
func FromStructListIncidentsRequest(in *structpb.Struct) (models.ListIncidentsRequest, error) {
	const op = "decode list incidents request"
	var doc listDoc
	if err := decode(op, in, &doc); err != nil {
		return models.ListIncidentsRequest{}, err
	}
	status := models.IncidentStatus(strings.ToLower(doc.Status))
	switch status {
	case "", models.IncidentActive, models.IncidentResolved:
	default:
		return models.ListIncidentsRequest{}, utils.NewAppError(op, fmt.Sprintf("status %q is not supported", doc.Status), nil)
	}
	if doc.Limit < 0 {
		return models.ListIncidentsRequest{}, utils.NewAppError(op, "limit must not be negative", nil)
	}
	return models.ListIncidentsRequest{Status: status, Limit: doc.Limit}, nil
}

// FromStructResolveRequest extracts the incident id of a ResolveIncident request.
func FromStructResolveRequest(in *structpb.Struct) (string, error) {
	const op = "decode resolve request"
	var doc resolveDoc
	if err := decode(op, in, &doc); err != nil {
		return "", err
	}
	if strings.TrimSpace(doc.IncidentID) == "" {
		return "", utils.NewAppError(op, "incident_id is required", nil)
	}
	return doc.IncidentID, nil
}

func fromInsightDocs(op string, docs []insightDoc) ([]models.Insight, error) {
	insights := make([]models.Insight, 0, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return nil, utils.NewAppError(op, fmt.Sprintf("insights[%d].id is required", i), nil)
		}
		severity, err := models.ParseSeverity(d.Severity)
		if err != nil {
			return nil, utils.NewAppError(op, fmt.Sprintf("insights[%d].severity: %v", i, err), err)
		}
		category, err := models.ParseInsightCategory(d.Category)
		if err != nil {
			return nil, utils.NewAppError(op, fmt.Sprintf("insights[%d].category: %v", i, err), err)
		}
		createdAt, err := utils.ParseRFC3339(d.CreatedAt)
		if err != nil {
			return nil, utils.NewAppError(op, fmt.Sprintf("insights[%d].created_at: %v", i, err), err)
		}
		insights = append(insights, models.Insight{
			ID:              d.ID,
			EndpointID:      d.EndpointID,
			EndpointName:    d.EndpointName,
			ContainerID:     d.ContainerID,
			ContainerName:   d.ContainerName,
			MetricType:      d.MetricType,
			Severity:        severity,
			Category:        category,
			Title:           d.Title,
			Description:     d.Description,
			SuggestedAction: d.SuggestedAction,
			CreatedAt:       createdAt.UTC(),
			Acknowledged:    d.Acknowledged,
		})
	}
	return insights, nil
}

func toInsightDoc(i models.Insight) insightDoc {
	return insightDoc{
		ID:              i.ID,
		EndpointID:      i.EndpointID,
		EndpointName:    i.EndpointName,
		ContainerID:     i.ContainerID,
		ContainerName:   i.ContainerName,
		MetricType:      i.MetricType,
		Severity:        string(i.Severity),
		Category:        string(i.Category),
		Title:           i.Title,
		Description:     i.Description,
		SuggestedAction: i.SuggestedAction,
		CreatedAt:       utils.FormatRFC3339(i.CreatedAt),
		Acknowledged:    i.Acknowledged,
	}
}

func toDetectionDoc(r models.AnomalyDetectionResult) detectionDoc {
	return detectionDoc{
		ContainerID:   r.ContainerID,
		ContainerName: r.ContainerName,
		MetricType:    r.MetricType,
		CurrentValue:  r.CurrentValue,
		Mean:          r.Mean,
		StdDev:        r.StdDev,
		ZScore:        r.ZScore,
		IsAnomalous:   r.IsAnomalous,
		Threshold:     r.Threshold,
		Method:        string(r.Method),
		Timestamp:     utils.FormatRFC3339(r.Timestamp),
	}
}

func toOutcomeDoc(o models.CorrelationOutcome) outcomeDoc {
	return outcomeDoc{
		IncidentsCreated:  o.IncidentsCreated,
		InsightsGrouped:   o.InsightsGrouped,
		InsightsUngrouped: o.InsightsUngrouped,
	}
}

func toIncidentDoc(inc models.Incident) incidentDoc {
	doc := incidentDoc{
		ID:                    inc.ID,
		Title:                 inc.Title,
		Severity:              string(inc.Severity),
		Status:                string(inc.Status),
		RootCauseInsightID:    inc.RootCauseInsightID,
		RelatedInsightIDs:     append([]string{}, inc.RelatedInsightIDs...),
		AffectedContainers:    append([]string{}, inc.AffectedContainers...),
		EndpointID:            inc.EndpointID,
		EndpointName:          inc.EndpointName,
		CorrelationType:       string(inc.CorrelationType),
		CorrelationConfidence: string(inc.CorrelationConfidence),
		InsightCount:          inc.InsightCount,
		Summary:               inc.Summary,
		CreatedAt:             utils.FormatRFC3339(inc.CreatedAt),
		UpdatedAt:             utils.FormatRFC3339(inc.UpdatedAt),
	}
	if inc.ResolvedAt != nil {
		doc.ResolvedAt = utils.FormatRFC3339(*inc.ResolvedAt)
	}
	return doc
}

// ToStructOutcome renders a correlation outcome.
func ToStructOutcome(o models.CorrelationOutcome) (*structpb.Struct, error) {
	return encode(toOutcomeDoc(o))
}

// ToStructDetection renders a detector verdict; nil means the history was too short.
func ToStructDetection(r *models.AnomalyDetectionResult) (*structpb.Struct, error) {
	if r == nil {
		return encode(detectResponseDoc{InsufficientData: true})
	}
	doc := toDetectionDoc(*r)
	return encode(detectResponseDoc{Result: &doc})
}

// ToStructCycleResult renders the result of one monitoring cycle.
func ToStructCycleResult(res models.CycleResult) (*structpb.Struct, error) {
	doc := cycleResultDoc{
		Detections: make([]detectionDoc, 0, len(res.Detections)),
		Insights:   make([]insightDoc, 0, len(res.Insights)),
		Outcome:    toOutcomeDoc(res.Outcome),
	}
	for _, d := range res.Detections {
		doc.Detections = append(doc.Detections, toDetectionDoc(d))
	}
	for _, i := range res.Insights {
		doc.Insights = append(doc.Insights, toInsightDoc(i))
	}
	return encode(doc)
}

// ToStructIncident renders one incident.
func ToStructIncident(inc models.Incident) (*structpb.Struct, error) {
	return encode(toIncidentDoc(inc))
}

// ToStructIncidentList renders a list of incidents.
func ToStructIncidentList(incidents []models.Incident) (*structpb.Struct, error) {
	doc := incidentListDoc{Incidents: make([]incidentDoc, 0, len(incidents))}
	for _, inc := range incidents {
		doc.Incidents = append(doc.Incidents, toIncidentDoc(inc))
	}
	return encode(doc)
}
