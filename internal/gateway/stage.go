package gateway

import (
	"github.com/aman-churiwal/intelligent-api-gateway/internal/auth"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/gwerror"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/proxy"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/ratelimit"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/router"
)

// Stage is a step of the per-request state machine. Stages advance strictly
// in order; any stage may end in StageFailed.
type Stage int

const (
	StageReceived Stage = iota
	StageResolved
	StageAuthenticated
	StageRateChecked
	StageForwarded
	StageCompleted
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageResolved:
		return "resolved"
	case StageAuthenticated:
		return "authenticated"
	case StageRateChecked:
		return "rate_checked"
	case StageForwarded:
		return "forwarded"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome records how far a request got. Stage is either StageCompleted or
// StageFailed; for failures, Reached is the last stage that succeeded.
type Outcome struct {
	Stage    Stage
	Reached  Stage
	Route    *router.Route
	Identity *auth.Identity
	Decision *ratelimit.Decision
	Result   *proxy.Result
	Err      *gwerror.Error
	Status   int
}

// RouteName is the matched route's name, or empty when resolution failed.
func (o Outcome) RouteName() string {
	if o.Route == nil {
		return ""
	}
	return o.Route.Name
}
