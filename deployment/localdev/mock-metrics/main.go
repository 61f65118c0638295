package main

import (
	"encoding/json"
	"errors"
	"flag"
	"hash/fnv"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/miradorstack/mirador-correlator/internal/utils"
)

type seriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type seriesRequest struct {
	ContainerID string `json:"container_id"`
	Metric      string `json:"metric"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":8080", "listen address")
	flag.Parse()

	logger := utils.Component(utils.NewLogger("info", false), "metrics-mock")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/series/container", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req seriesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		start, err := utils.ParseRFC3339(req.Start)
		if err != nil {
			http.Error(w, "start: "+err.Error(), http.StatusBadRequest)
			return
		}
		end, err := utils.ParseRFC3339(req.End)
		if err != nil {
			http.Error(w, "end: "+err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, logger, map[string]any{"series": syntheticSeries(req.ContainerID, req.Metric, start, end)})
	})

	// Minimal stand-in for an Ollama-compatible narrative endpoint.
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, map[string]any{"models": []map[string]string{{"name": "llama3"}}})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, logger, map[string]any{
			"response": "Resource pressure on one container spread to its neighbours on the same endpoint. Check the root container's recent deployment first.",
		})
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("listening", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

// syntheticSeries returns one sample per minute around a per-container baseline so repeated
// queries see a stable history.
func syntheticSeries(containerID, metric string, start, end time.Time) []seriesPoint {
	h := fnv.New32a()
	_, _ = h.Write([]byte(containerID + "/" + metric))
	seed := h.Sum32()
	base := 20 + float64(seed%60)
	amplitude := 1 + float64(seed%7)

	points := make([]seriesPoint, 0)
	for ts, i := start.Truncate(time.Minute), 0; !ts.After(end); ts, i = ts.Add(time.Minute), i+1 {
		if ts.Before(start) {
			continue
		}
		points = append(points, seriesPoint{
			Timestamp: ts.UTC(),
			Value:     math.Round((base+amplitude*math.Sin(float64(i)/3))*100) / 100,
		})
	}
	return points
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("encode error", slog.Any("error", err))
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
