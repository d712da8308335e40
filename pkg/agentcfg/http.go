package agentcfg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-voicebridge/internal/httpc"
	"github.com/teslashibe/go-voicebridge/internal/log"
)

// HTTPResolver fetches agent configuration from a control-plane
// endpoint: GET {base}/agents/by-call/{callID} returning an AgentConfig
// JSON document, 404 when no agent is assigned.
type HTTPResolver struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// HTTPOption configures an HTTPResolver.
type HTTPOption func(*HTTPResolver)

// WithToken sets the bearer token sent on lookups.
func WithToken(token string) HTTPOption {
	return func(r *HTTPResolver) { r.token = token }
}

// WithTimeout sets the per-lookup timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(r *HTTPResolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewHTTPResolver creates a resolver against the given base URL.
func NewHTTPResolver(baseURL string, opts ...HTTPOption) *HTTPResolver {
	r := &HTTPResolver{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: DefaultResolveTimeout,
		http:    httpc.Client,
		logger:  log.With("component", "agentcfg"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches the configuration for the call.
func (r *HTTPResolver) Resolve(ctx context.Context, callID string) (*AgentConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	u := fmt.Sprintf("%s/agents/by-call/%s", r.baseURL, url.PathEscape(callID))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("agentcfg: create request: %w", err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	start := time.Now()
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agentcfg: lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agentcfg: lookup returned %d: %s", resp.StatusCode, body)
	}

	var cfg AgentConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("agentcfg: decode config: %w", err)
	}

	r.logger.Debug("agent resolved",
		"call_id", callID,
		"agent_id", cfg.AgentID,
		"provider", cfg.Provider,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &cfg, nil
}

// Verify HTTPResolver implements Resolver at compile time.
var _ Resolver = (*HTTPResolver)(nil)
