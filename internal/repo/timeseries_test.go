package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func newTestClient(rt roundTripFunc) *http.Client { return &http.Client{Transport: rt} }

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func TestFetchContainerSeries(t *testing.T) {
	client := NewTimeSeriesClient("https://tsdb.example.com/base/", "/api/v1/series/container", time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/base/api/v1/series/container", req.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "c-1", body["container_id"])
		assert.Equal(t, "cpu", body["metric"])

		return jsonResponse(t, http.StatusOK, map[string]any{
			"series": []map[string]any{
				{"timestamp": "2026-01-01T00:00:00Z", "value": 10.0},
				{"timestamp": "2026-01-01T00:01:00Z", "value": nil},
				{"timestamp": "2026-01-01T00:02:00Z", "value": 20.0},
			},
		}), nil
	}))

	end := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	points, err := client.FetchContainerSeries(context.Background(), "c-1", "cpu", end.Add(-30*time.Minute), end)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 20.0, points[1].Value)
}

func TestFetchContainerSeriesUpstreamError(t *testing.T) {
	client := NewTimeSeriesClient("https://tsdb.example.com", "/series", time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusBadGateway, map[string]string{"error": "down"}), nil
	}))

	_, err := client.FetchContainerSeries(context.Background(), "c-1", "cpu", time.Now().Add(-time.Minute), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
}

func TestFetchContainerSeriesRequiresConfiguration(t *testing.T) {
	_, err := NewTimeSeriesClient("", "/series", 0).FetchContainerSeries(context.Background(), "c-1", "cpu", time.Now(), time.Now())
	assert.Error(t, err)

	var nilClient *TimeSeriesClient
	_, err = nilClient.FetchContainerSeries(context.Background(), "c-1", "cpu", time.Now(), time.Now())
	assert.Error(t, err)
}
