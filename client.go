package agion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agion-ai/agion-go/internal/audit"
	"github.com/agion-ai/agion-go/internal/dlp"
	"github.com/agion-ai/agion-go/internal/eventstream"
	"github.com/agion-ai/agion-go/internal/localpolicy"
	"github.com/agion-ai/agion-go/internal/permcache"
	"github.com/agion-ai/agion-go/internal/policysync"
	"github.com/agion-ai/agion-go/policy"
)

const apiPrefix = "/api/v1"

// Client is the embedded governance client. It evaluates permissions
// against locally cached policy rules, keeps those rules in sync with
// the governance service in the background, and publishes behavioral
// events without blocking the caller.
//
// Create with New, then Start before the first check. Close releases
// background workers and flushes buffered events.
type Client struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Client
	base   string

	rdb       *redis.Client
	engine    *policy.Engine
	sync      *policysync.Worker
	publisher *eventstream.Publisher
	cache     *permcache.Cache[CheckResult]
	decisions *audit.Store
	scanner   *dlp.Scanner
	watcher   *localpolicy.Watcher

	usage     sync.Map // permission id -> *usageEntry
	lastTrust sync.Map // actor id -> float64

	now     func() time.Time
	started atomic.Bool
	checks  atomic.Uint64
	denials atomic.Uint64
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the HTTP client used for governance API calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client from cfg. Zero-valued config fields fall back to
// defaults. Nothing touches the network until Start.
func New(cfg Config, opts ...Option) (*Client, error) {
	def := DefaultConfig()
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = def.GatewayURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.CacheTTLApproved <= 0 {
		cfg.CacheTTLApproved = def.CacheTTLApproved
	}
	if cfg.CacheTTLDenied <= 0 {
		cfg.CacheTTLDenied = def.CacheTTLDenied
	}
	if cfg.CacheMaxSize <= 0 {
		cfg.CacheMaxSize = def.CacheMaxSize
	}
	if cfg.CacheKeyStrategy == "" {
		cfg.CacheKeyStrategy = def.CacheKeyStrategy
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}
	if cfg.EventFlushInterval <= 0 {
		cfg.EventFlushInterval = def.EventFlushInterval
	}
	if cfg.FailOpenMinTrust == 0 {
		cfg.FailOpenMinTrust = def.FailOpenMinTrust
	}
	if cfg.AgentVersion == "" {
		cfg.AgentVersion = def.AgentVersion
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		logger: slog.Default(),
		base:   strings.TrimRight(cfg.GatewayURL, "/") + apiPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	engine, err := policy.NewEngine(c.logger)
	if err != nil {
		return nil, err
	}
	c.engine = engine
	c.cache = permcache.New[CheckResult]("permission", cfg.CacheMaxSize)

	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		c.rdb = redis.NewClient(ropts)
		c.publisher = eventstream.NewPublisher(c.rdb, eventstream.Options{
			BufferSize:    cfg.EventBufferSize,
			FlushInterval: cfg.EventFlushInterval,
		}, c.logger)
	}

	c.sync = policysync.New(c.rdb, cfg.SyncInterval, c.fetchActiveRules, c.engine.Load, c.logger)

	if cfg.DLPEnabled {
		c.scanner = dlp.NewScanner(cfg.DLPRulesDir)
	}

	return c, nil
}

// Start brings the client online: local policy rules load first, then
// the initial remote sync runs, the sync worker and event publisher
// start, and the agent registers with the service. Registration and the
// initial sync are allowed to fail when fail-open is configured; the
// client starts degraded and recovers on a later sync.
func (c *Client) Start(ctx context.Context) error {
	if c.started.Swap(true) {
		return nil
	}

	if c.cfg.DecisionLogPath != "" {
		store, err := audit.NewStore(c.cfg.DecisionLogPath, c.logger, c.cfg.DecisionLogRetention)
		if err != nil {
			return fmt.Errorf("opening decision log: %w", err)
		}
		c.decisions = store
	}

	if c.cfg.LocalPolicyFile != "" {
		rules, err := localpolicy.Load(c.cfg.LocalPolicyFile)
		if err != nil {
			return fmt.Errorf("loading local policy file: %w", err)
		}
		c.engine.Load(rules)

		if c.cfg.WatchPolicyFile {
			w, err := localpolicy.Watch(c.cfg.LocalPolicyFile, c.engine.Load, c.logger)
			if err != nil {
				return fmt.Errorf("watching local policy file: %w", err)
			}
			c.watcher = w
		}
	}

	if c.publisher != nil {
		c.publisher.Start()
	}

	if err := c.sync.Start(ctx); err != nil {
		if !c.cfg.FailOpen && c.engine.Current().Len() == 0 {
			c.sync.Stop()
			return fmt.Errorf("initial policy sync: %w", err)
		}
		c.logger.Warn("starting degraded, initial policy sync failed", "error", err)
	}

	if c.cfg.AgentID != "" {
		if err := c.registerAgent(ctx); err != nil {
			c.logger.Warn("agent registration failed", "agent_id", c.cfg.AgentID, "error", err)
		}
	}

	c.logger.Info("governance client started",
		"gateway", c.cfg.GatewayURL,
		"agent_id", c.cfg.AgentID,
		"fail_open", c.cfg.FailOpen,
		"rules", c.engine.Current().Len())
	return nil
}

// Close stops background workers, flushes buffered events within ctx's
// deadline, and closes the decision log.
func (c *Client) Close(ctx context.Context) error {
	if !c.started.Swap(false) {
		return nil
	}

	if c.watcher != nil {
		_ = c.watcher.Close()
	}
	c.sync.Stop()

	var errs []error
	if c.publisher != nil {
		if err := c.publisher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing event publisher: %w", err))
		}
	}
	if c.decisions != nil {
		if err := c.decisions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing decision log: %w", err))
		}
	}
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}

	c.logger.Info("governance client stopped")
	return errors.Join(errs...)
}

// Engine exposes the local policy engine, mainly for diagnostics.
func (c *Client) Engine() *policy.Engine { return c.engine }

// DecisionLog queries the local decision log. Returns nil when no log
// is configured.
func (c *Client) DecisionLog(opts audit.QueryOpts) ([]audit.Entry, error) {
	if c.decisions == nil {
		return nil, nil
	}
	return c.decisions.Query(opts)
}

// registerAgent announces the agent to the governance service. The
// service creates or refreshes the agent record; a failure here never
// blocks startup.
func (c *Client) registerAgent(ctx context.Context) error {
	body := map[string]any{
		"agent_id":        c.cfg.AgentID,
		"organization_id": c.cfg.OrganizationID,
		"version":         c.cfg.AgentVersion,
		"registered_at":   c.now().UTC().Format(time.RFC3339),
	}
	return c.doJSON(ctx, http.MethodPost, "/agents/register", body, nil)
}

// Metrics is a point-in-time snapshot of client activity.
type Metrics struct {
	Checks  uint64              `json:"checks"`
	Denials uint64              `json:"denials"`
	Cache   permcache.Stats     `json:"cache"`
	Engine  policy.Metrics      `json:"engine"`
	Sync    policysync.Metrics  `json:"sync"`
	Events  eventstream.Metrics `json:"events"`
}

// Metrics returns counters from every subsystem.
func (c *Client) Metrics() Metrics {
	m := Metrics{
		Checks:  c.checks.Load(),
		Denials: c.denials.Load(),
		Cache:   c.cache.Stats(),
		Engine:  c.engine.Stats(),
		Sync:    c.sync.Stats(),
	}
	if c.publisher != nil {
		m.Events = c.publisher.Stats()
	}
	return m
}

// ClearCache drops all cached permission decisions.
func (c *Client) ClearCache() { c.cache.Clear() }

// doJSON performs a governance API request. body and out may be nil.
// Transport failures and 5xx responses surface as
// ServiceUnavailableError, 429 as RateLimitError, other non-2xx as
// APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}
	if c.cfg.AgentID != "" {
		req.Header.Set("X-Agent-ID", c.cfg.AgentID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ServiceUnavailableError{Endpoint: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response from %s: %w", path, err)
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := apiDetail(raw)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		var after time.Duration
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				after = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: after}
	case resp.StatusCode >= 500:
		return &ServiceUnavailableError{
			Endpoint: path,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, detail),
		}
	default:
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Detail:     detail,
		}
	}
}

// apiDetail extracts the "detail" field from an error body, falling back
// to the raw text.
func apiDetail(raw []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return strings.TrimSpace(string(raw))
}

// notFound converts a 404 APIError into a typed not-found error.
func notFound(err error, kind, id string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return &ResourceNotFoundError{Kind: kind, ID: id}
	}
	return err
}
