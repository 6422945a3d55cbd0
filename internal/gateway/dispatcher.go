package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/auth"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/gwerror"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/metrics"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/proxy"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/ratelimit"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/router"
)

// SubjectHeader carries the validated subject to the backend. Any value sent
// by the client is discarded.
const SubjectHeader = "X-Authenticated-Subject"

type Resolver interface {
	Resolve(method, path string) (*router.Route, error)
}

type Validator interface {
	ValidateHeader(header string) (*auth.Identity, error)
}

type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, route *router.Route, clientIP string) (*proxy.Result, error)
}

// Dispatcher composes route resolution, token validation, rate limiting and
// forwarding for every proxied request.
type Dispatcher struct {
	resolver  Resolver
	validator Validator
	limiter   ratelimit.Limiter
	forwarder Forwarder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Dispatcher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock sets the time source handed to the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func New(resolver Resolver, validator Validator, limiter ratelimit.Limiter, forwarder Forwarder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver:  resolver,
		validator: validator,
		limiter:   limiter,
		forwarder: forwarder,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d
}

// Dispatch runs one request through the gateway and writes the response,
// either the relayed backend response or a structured error.
func (d *Dispatcher) Dispatch(w http.ResponseWriter, r *http.Request, clientIP string) Outcome {
	start := time.Now()
	if d.metrics != nil {
		d.metrics.ActiveRequests.Inc()
		defer d.metrics.ActiveRequests.Dec()
	}

	out := d.run(w, r, clientIP)

	if out.Err != nil {
		out.Status = out.Err.StatusCode()
		writeError(w, out.Err)
		d.logFailure(r, out)
	} else if out.Result != nil {
		out.Status = out.Result.StatusCode
	}

	if d.metrics != nil {
		route := metrics.RouteLabel(out.RouteName())
		d.metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(out.Status), out.Stage.String()).Inc()
		d.metrics.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	}
	return out
}

func (d *Dispatcher) run(w http.ResponseWriter, r *http.Request, clientIP string) Outcome {
	out := Outcome{Reached: StageReceived}

	// Received -> Resolved
	route, err := d.resolver.Resolve(r.Method, r.URL.Path)
	if err != nil {
		return out.fail(err)
	}
	out.Route = route
	out.Reached = StageResolved

	// Resolved -> Authenticated
	r.Header.Del(SubjectHeader)
	if route.AuthRequired {
		identity, err := d.validator.ValidateHeader(r.Header.Get("Authorization"))
		if err != nil {
			if d.metrics != nil {
				d.metrics.AuthFailures.WithLabelValues(route.Name).Inc()
			}
			return out.fail(err)
		}
		out.Identity = identity
		r.Header.Set(SubjectHeader, identity.Subject)
	}
	out.Reached = StageAuthenticated

	// Authenticated -> RateChecked
	if route.Tier != nil {
		decision, err := d.limiter.Allow(r.Context(), rateKey(out.Identity, clientIP), *route.Tier, d.now())
		switch {
		case err != nil:
			// Store failures admit the request.
			d.logger.Error("Rate limiter unavailable, admitting request",
				"route", route.Name,
				"tier", route.Tier.Name,
				"error", err,
			)
			if d.metrics != nil {
				d.metrics.RateLimitErrors.WithLabelValues(route.Tier.Name).Inc()
			}
		case !decision.Allowed:
			out.Decision = &decision
			setRateLimitHeaders(w.Header(), decision)
			if d.metrics != nil {
				d.metrics.RateLimitRejected.WithLabelValues(route.Name, route.Tier.Name).Inc()
			}
			return out.fail(decision.Err())
		default:
			out.Decision = &decision
			setRateLimitHeaders(w.Header(), decision)
			if d.metrics != nil {
				d.metrics.RateLimitAllowed.WithLabelValues(route.Name, route.Tier.Name).Inc()
			}
		}
	}
	out.Reached = StageRateChecked

	// RateChecked -> Forwarded -> Completed
	normalizePath(r.URL)
	result, err := d.forwarder.Forward(w, r, route, clientIP)
	out.Result = result
	if err != nil {
		return out.fail(err)
	}
	out.Reached = StageForwarded
	out.Stage = StageCompleted
	return out
}

func (o Outcome) fail(err error) Outcome {
	gwErr, ok := gwerror.As(err)
	if !ok {
		gwErr = gwerror.BackendUnavailable(o.RouteName(), err)
	}
	o.Stage = StageFailed
	o.Err = gwErr
	return o
}

// rateKey scopes the limiter to the authenticated subject, or to the caller
// address for anonymous requests.
func rateKey(identity *auth.Identity, clientIP string) string {
	if identity != nil {
		return "sub:" + identity.Subject
	}
	return "ip:" + clientIP
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// normalizePath forwards the same cleaned path that was used for matching.
func normalizePath(u *url.URL) {
	cleaned := router.CleanPath(u.Path)
	if cleaned != u.Path {
		u.Path = cleaned
		u.RawPath = ""
	}
}

func writeError(w http.ResponseWriter, err *gwerror.Error) {
	h := w.Header()
	for k, vv := range err.Headers() {
		h[k] = vv
	}
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(err.StatusCode())
	_ = json.NewEncoder(w).Encode(err.Body())
}

func (d *Dispatcher) logFailure(r *http.Request, out Outcome) {
	level := slog.LevelInfo
	if out.Err.Kind == gwerror.KindBackendUnavailable || out.Err.Kind == gwerror.KindBackendTimeout {
		level = slog.LevelWarn
	}
	if errors.Is(out.Err, context.Canceled) {
		level = slog.LevelDebug
	}
	d.logger.Log(r.Context(), level, "Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"route", out.RouteName(),
		"reached", out.Reached.String(),
		"code", out.Err.Code(),
		"error", out.Err.Error(),
	)
}
