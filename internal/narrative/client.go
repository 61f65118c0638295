package narrative

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-correlator/internal/cache"
	"github.com/miradorstack/mirador-correlator/internal/models"
)

var (
	// ErrUnavailable is returned when no narrative endpoint is configured or reachable.
	ErrUnavailable = errors.New("narrative endpoint unavailable")
	// ErrRateLimited is returned when the request budget for the current minute is spent.
	ErrRateLimited = errors.New("narrative request rate exceeded")
)

const (
	generatePath = "/api/generate"
	probePath    = "/api/tags"
	probeTTL     = 30 * time.Second
)

// Config describes the Ollama-compatible generation endpoint.
type Config struct {
	Endpoint          string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
	CacheTTL          time.Duration
}

// Client produces short incident narratives from a text-generation model.
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      cache.Provider
	cacheTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	probedAt  time.Time
	available bool
}

// NewClient constructs a narrative client. A nil cache disables result caching.
func NewClient(cfg Config, cacheProvider cache.Provider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}

	limit := rate.Inf
	burst := 0
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
		burst = cfg.RequestsPerMinute
	}

	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		cache:      cacheProvider,
		cacheTTL:   cfg.CacheTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Available probes the endpoint, remembering the answer for a short period.
func (c *Client) Available(ctx context.Context) bool {
	if c == nil || c.endpoint == "" {
		return false
	}

	c.mu.Lock()
	if !c.probedAt.IsZero() && c.now().Sub(c.probedAt) < probeTTL {
		available := c.available
		c.mu.Unlock()
		return available
	}
	c.mu.Unlock()

	available := c.probe(ctx)

	c.mu.Lock()
	c.available = available
	c.probedAt = c.now()
	c.mu.Unlock()
	return available
}

func (c *Client) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+probePath, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("narrative probe failed", slog.Any("error", err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 300
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// GenerateNarrativeSummary asks the model to describe a correlated group in two or three sentences.
func (c *Client) GenerateNarrativeSummary(ctx context.Context, insights []models.Insight, correlationType models.CorrelationType) (string, error) {
	if c == nil || c.endpoint == "" {
		return "", ErrUnavailable
	}
	if len(insights) == 0 {
		return "", fmt.Errorf("no insights to summarise")
	}

	key := "narrative:" + fingerprint(insights, correlationType)
	var cached string
	if err := cache.GetJSON(ctx, c.cache, key, &cached); err == nil && cached != "" {
		return cached, nil
	}

	if !c.limiter.Allow() {
		return "", ErrRateLimited
	}

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: BuildPrompt(insights, correlationType),
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+generatePath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("narrative request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("narrative endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode narrative response: %w", err)
	}
	summary := strings.TrimSpace(out.Response)
	if summary == "" {
		return "", fmt.Errorf("narrative endpoint returned empty response")
	}

	if c.cacheTTL > 0 {
		if err := cache.SetJSON(ctx, c.cache, key, summary, c.cacheTTL); err != nil {
			c.logger.Debug("narrative cache write failed", slog.Any("error", err))
		}
	}
	return summary, nil
}

// BuildPrompt renders the instruction sent to the model for a group.
func BuildPrompt(insights []models.Insight, correlationType models.CorrelationType) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a site reliability assistant. %d monitoring alerts were grouped as a %s incident.\n", len(insights), correlationType)
	b.WriteString("Write a two or three sentence summary naming the most likely root cause. Do not use lists.\n\nAlerts:\n")
	for _, insight := range insights {
		container := insight.ContainerName
		if container == "" {
			container = "unknown container"
		}
		fmt.Fprintf(&b, "- [%s] %s (%s) at %s", insight.Severity, insight.Title, container, insight.CreatedAt.UTC().Format(time.RFC3339))
		if insight.Description != "" {
			fmt.Fprintf(&b, ": %s", insight.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func fingerprint(insights []models.Insight, correlationType models.CorrelationType) string {
	ids := make([]string, 0, len(insights))
	for _, insight := range insights {
		ids = append(ids, insight.ID)
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(string(correlationType) + "|" + strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:])
}
