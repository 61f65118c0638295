package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// MetricPoint represents a single metric sample returned by the time-series store.
type MetricPoint struct {
	Timestamp time.Time
	Value     float64
}

// TimeSeriesClient reads container metric history from the metrics time-series store.
type TimeSeriesClient struct {
	baseURL    string
	seriesPath string
	httpClient *http.Client
}

// NewTimeSeriesClient constructs a client targeting the configured store.
func NewTimeSeriesClient(baseURL, seriesPath string, timeout time.Duration) *TimeSeriesClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TimeSeriesClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		seriesPath: seriesPath,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchContainerSeries returns the samples of one container metric inside [start, end].
// An empty series is not an error; the detector treats it as insufficient data.
func (c *TimeSeriesClient) FetchContainerSeries(ctx context.Context, containerID, metricType string, start, end time.Time) ([]MetricPoint, error) {
	if c == nil {
		return nil, fmt.Errorf("time-series client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("time-series base URL not configured")
	}
	if containerID == "" || metricType == "" {
		return nil, fmt.Errorf("container id and metric type are required")
	}

	payload := map[string]interface{}{
		"container_id": containerID,
		"metric":       metricType,
		"start":        start.UTC().Format(time.RFC3339),
		"end":          end.UTC().Format(time.RFC3339),
	}

	var response struct {
		Series []struct {
			Timestamp time.Time `json:"timestamp"`
			Value     *float64  `json:"value"`
		} `json:"series"`
	}

	if err := c.postJSON(ctx, c.resolvePath(c.seriesPath), payload, &response); err != nil {
		return nil, fmt.Errorf("time-series request failed: %w", err)
	}

	points := make([]MetricPoint, 0, len(response.Series))
	for _, sample := range response.Series {
		if sample.Value == nil {
			continue
		}
		points = append(points, MetricPoint{Timestamp: sample.Timestamp, Value: *sample.Value})
	}
	return points, nil
}

func (c *TimeSeriesClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *TimeSeriesClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("time-series store returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
