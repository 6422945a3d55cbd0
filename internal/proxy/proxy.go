package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/gwerror"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/healthcheck"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/loadbalancer"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/metrics"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/router"
	"github.com/google/uuid"
)

var errNoHealthyTargets = errors.New("no healthy backend targets")

// Forwarder sends a resolved request to one of its route's backends and
// relays the response. It owns the outbound transport, the per-backend
// circuit breakers and the optional active health checker.
type Forwarder struct {
	transport      http.RoundTripper
	defaultTimeout time.Duration
	retry          bool
	breakers       *circuitbreaker.Registry
	health         *healthcheck.Checker
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

type Option func(*Forwarder)

// WithTransport replaces the pooled HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Forwarder) { f.transport = rt }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Forwarder) { f.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Forwarder) { f.logger = l }
}

// Result describes a forwarded exchange.
type Result struct {
	Target     *url.URL
	StatusCode int
	Attempts   int
	Written    int64
}

func New(cfg Config, opts ...Option) *Forwarder {
	cfg = cfg.withDefaults()

	f := &Forwarder{
		defaultTimeout: cfg.DefaultTimeout,
		retry:          !cfg.DisableRetry,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "proxy")
	if f.transport == nil {
		f.transport = newTransport(cfg)
	}

	f.breakers = circuitbreaker.NewRegistry(cfg.CircuitBreaker, f.logger)
	if f.metrics != nil {
		m := f.metrics
		f.breakers.OnStateChange = func(backend string, _, to circuitbreaker.State) {
			m.CircuitBreakerState.WithLabelValues(backend).Set(float64(to))
			m.CircuitBreakerTransitions.WithLabelValues(backend, to.String()).Inc()
		}
	}

	if cfg.HealthCheck.Enabled {
		f.health = healthcheck.NewChecker(cfg.HealthCheck, &http.Client{Transport: f.transport}, f.logger)
		if f.metrics != nil {
			m := f.metrics
			f.health.OnTransition = func(target string, healthy bool) {
				v := 0.0
				if healthy {
					v = 1
				}
				m.BackendHealth.WithLabelValues(target).Set(v)
			}
		}
	}

	return f
}

func newTransport(cfg Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	// Backend responses are relayed verbatim, encoding included.
	t.DisableCompression = true
	return t
}

// Breakers exposes the per-backend circuit breakers.
func (f *Forwarder) Breakers() *circuitbreaker.Registry {
	return f.breakers
}

// Health returns the active health checker, or nil when it is disabled.
func (f *Forwarder) Health() *healthcheck.Checker {
	return f.health
}

// Sync points the health checker at every backend in table.
func (f *Forwarder) Sync(table *router.Table) {
	if f.health == nil {
		return
	}
	seen := make(map[string]struct{})
	var targets []string
	for _, route := range table.Routes() {
		for _, t := range route.Targets {
			base := baseURL(t)
			if _, ok := seen[base]; ok {
				continue
			}
			seen[base] = struct{}{}
			targets = append(targets, base)
		}
	}
	f.health.SetTargets(targets)
}

// Run drives the health checker until ctx is cancelled. It returns
// immediately when health checks are disabled.
func (f *Forwarder) Run(ctx context.Context) {
	if f.health == nil {
		return
	}
	f.health.Run(ctx)
}

// Forward issues the outbound request for r and relays the backend response
// to w. The backend call is bounded by the route timeout and is cancelled
// when the client goes away. Idempotent requests without a body are retried
// once after a connection-level failure; a backend status is never retried.
//
// Any returned error is a *gwerror.Error and means nothing has been written
// to w yet.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, route *router.Route, clientIP string) (*Result, error) {
	candidates := f.healthyTargets(route)
	if len(candidates) == 0 {
		return &Result{}, gwerror.BackendUnavailable(route.Name, errNoHealthyTargets)
	}

	timeout := route.Timeout
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	if r.Header.Get("X-Request-ID") == "" {
		r.Header.Set("X-Request-ID", uuid.NewString())
	}

	maxAttempts := 1
	if f.retry && retryable(r) {
		maxAttempts = 2
	}

	res := &Result{}
	var lastErr *gwerror.Error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		target := route.TargetFrom(candidates)
		res.Target = target
		res.Attempts = attempt

		done, err := f.attempt(ctx, w, r, route, target, clientIP, res)
		if done {
			return res, nil
		}
		lastErr = err

		if attempt == maxAttempts || err.Kind != gwerror.KindBackendUnavailable || ctx.Err() != nil {
			break
		}

		f.logger.Warn("Retrying idempotent request",
			"route", route.Name,
			"backend", target.Host,
			"method", r.Method,
			"error", err.Cause,
		)
		if f.metrics != nil {
			f.metrics.BackendRetries.WithLabelValues(route.Name, target.Host).Inc()
		}
		if len(candidates) > 1 {
			candidates = without(candidates, target)
		}
	}

	return res, lastErr
}

// attempt performs one round trip. It reports done once a response has been
// relayed, otherwise the classified failure.
func (f *Forwarder) attempt(ctx context.Context, w http.ResponseWriter, r *http.Request, route *router.Route, target *url.URL, clientIP string, res *Result) (bool, *gwerror.Error) {
	breaker := f.breakers.Get(target.Host)
	if err := breaker.Allow(); err != nil {
		f.observeError(route, target, gwerror.BackendUnavailable(target.Host, err), 0)
		return false, gwerror.BackendUnavailable(target.Host, err)
	}

	if tracker, ok := route.Balancer.(loadbalancer.Tracker); ok {
		tracker.Acquire(target)
		defer tracker.Release(target)
	}

	start := time.Now()
	resp, err := f.transport.RoundTrip(f.outboundRequest(ctx, r, target, clientIP))
	if err != nil {
		gwErr := classify(r.Context(), ctx, target.Host, err)
		// A client hanging up says nothing about the backend.
		if r.Context().Err() == nil {
			breaker.Record(false)
		}
		f.observeError(route, target, gwErr, time.Since(start))
		return false, gwErr
	}
	defer resp.Body.Close()
	breaker.Record(true)

	res.StatusCode = resp.StatusCode
	written, err := relay(w, resp)
	res.Written = written
	if err != nil {
		f.logger.Warn("Response relay interrupted",
			"route", route.Name,
			"backend", target.Host,
			"written", written,
			"error", err,
		)
	}

	if f.metrics != nil {
		f.metrics.BackendRequestsTotal.WithLabelValues(route.Name, target.Host, strconv.Itoa(resp.StatusCode)).Inc()
		f.metrics.BackendRequestDuration.WithLabelValues(route.Name, target.Host).Observe(time.Since(start).Seconds())
	}
	return true, nil
}

func (f *Forwarder) observeError(route *router.Route, target *url.URL, err *gwerror.Error, elapsed time.Duration) {
	if f.metrics == nil {
		return
	}
	f.metrics.BackendRequestsTotal.WithLabelValues(route.Name, target.Host, "error").Inc()
	f.metrics.BackendErrors.WithLabelValues(route.Name, target.Host, err.Code()).Inc()
	if elapsed > 0 {
		f.metrics.BackendRequestDuration.WithLabelValues(route.Name, target.Host).Observe(elapsed.Seconds())
	}
}

func (f *Forwarder) healthyTargets(route *router.Route) []*url.URL {
	if f.health == nil {
		return route.Targets
	}
	out := make([]*url.URL, 0, len(route.Targets))
	for _, t := range route.Targets {
		if f.health.IsHealthy(baseURL(t)) {
			out = append(out, t)
		}
	}
	return out
}

func (f *Forwarder) outboundRequest(ctx context.Context, r *http.Request, target *url.URL, clientIP string) *http.Request {
	out := r.Clone(ctx)
	out.RequestURI = ""
	out.Close = false

	out.URL.Scheme = target.Scheme
	out.URL.Host = target.Host
	out.URL.Path, out.URL.RawPath = joinURLPath(target, r.URL)
	if target.RawQuery == "" || r.URL.RawQuery == "" {
		out.URL.RawQuery = target.RawQuery + r.URL.RawQuery
	} else {
		out.URL.RawQuery = target.RawQuery + "&" + r.URL.RawQuery
	}
	out.Host = target.Host

	prepareOutboundHeaders(out.Header)
	appendForwardedFor(out.Header, clientIP)
	out.Header.Set("X-Forwarded-Host", r.Host)
	out.Header.Set("X-Forwarded-Proto", scheme(r))

	return out
}

// relay writes the backend response to w. Streaming responses are flushed
// as they arrive.
func relay(w http.ResponseWriter, resp *http.Response) (int64, error) {
	removeHopByHop(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	written, err := copyBody(w, resp.Body, resp.ContentLength == -1)

	for k, vv := range resp.Trailer {
		for _, v := range vv {
			w.Header().Add(http.TrailerPrefix+k, v)
		}
	}
	return written, err
}

func copyBody(w http.ResponseWriter, body io.Reader, flush bool) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)

	var written int64
	for {
		nr, rerr := body.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if flush {
				_ = rc.Flush()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// classify maps a transport error to the gateway taxonomy. clientCtx is the
// inbound request context, ctx the bounded backend context.
func classify(clientCtx, ctx context.Context, target string, err error) *gwerror.Error {
	if clientCtx.Err() != nil {
		return gwerror.BackendUnavailable(target, clientCtx.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return gwerror.BackendTimeout(target, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return gwerror.BackendTimeout(target, err)
	}
	return gwerror.BackendUnavailable(target, err)
}

func retryable(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		return false
	}
	return r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0
}

func without(targets []*url.URL, drop *url.URL) []*url.URL {
	out := make([]*url.URL, 0, len(targets))
	for _, t := range targets {
		if t != drop {
			out = append(out, t)
		}
	}
	return out
}

func baseURL(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

func joinURLPath(a, b *url.URL) (path, rawpath string) {
	if a.RawPath == "" && b.RawPath == "" {
		return singleJoiningSlash(a.Path, b.Path), ""
	}

	apath := a.EscapedPath()
	bpath := b.EscapedPath()

	aslash := strings.HasSuffix(apath, "/")
	bslash := strings.HasPrefix(bpath, "/")

	switch {
	case aslash && bslash:
		return a.Path + b.Path[1:], apath + bpath[1:]
	case !aslash && !bslash:
		return a.Path + "/" + b.Path, apath + "/" + bpath
	}
	return a.Path + b.Path, apath + bpath
}
