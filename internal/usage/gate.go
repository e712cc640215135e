package usage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/supavec/supavec-sub000/internal/apierror"
	"github.com/supavec/supavec-sub000/internal/logging"
	"github.com/supavec/supavec-sub000/internal/postgres"
)

// KeyResolver maps an API key to an identity.
type KeyResolver interface {
	Resolve(ctx context.Context, apiKey string) (*postgres.Identity, error)
}

// UsageRepo is the accounting slice of the relational store.
type UsageRepo interface {
	GetProfile(ctx context.Context, userID string) (*postgres.UsageProfile, error)
	CountLogsSince(ctx context.Context, userID string, since time.Time) (int, error)
	InsertLog(ctx context.Context, e postgres.UsageLogEntry) error
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Identity *postgres.Identity

	// Limit and Usage reflect the quota window at check time. Zero when the
	// gate failed open.
	Limit int
	Usage int

	// FailedOpen marks that quota evaluation hit an internal error and the
	// request was allowed through anyway.
	FailedOpen bool
}

// Gate runs before every external entry point: rate limit, key resolution,
// then quota.
//
// Rate limiting runs first because it is cheap and stateless relative to key
// resolution. An internal error during quota evaluation fails open: the
// request proceeds so an infrastructure outage cannot block all traffic. The
// fail-open branch is typed on the Decision and logged, never silent.
type Gate struct {
	keys    KeyResolver
	usage   UsageRepo
	limiter RateLimiter
	logger  *logging.Logger
	now     func() time.Time

	rateLimit        int
	disableRateLimit bool
}

// GateOptions tunes the gate.
type GateOptions struct {
	// RateLimit is the per-window request cap reported to throttled callers.
	RateLimit int

	// DisableRateLimit turns rate limiting off, for local and test runs.
	DisableRateLimit bool

	// Now overrides the clock.
	Now func() time.Time
}

// NewGate creates the gate.
func NewGate(keys KeyResolver, usage UsageRepo, limiter RateLimiter, logger *logging.Logger, opts GateOptions) (*Gate, error) {
	if keys == nil || usage == nil {
		return nil, errors.New("key resolver and usage repo are required")
	}
	if limiter == nil && !opts.DisableRateLimit {
		return nil, errors.New("limiter is required unless rate limiting is disabled")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gate{
		keys:             keys,
		usage:            usage,
		limiter:          limiter,
		logger:           logger.Named("usage"),
		now:              opts.Now,
		rateLimit:        opts.RateLimit,
		disableRateLimit: opts.DisableRateLimit,
	}, nil
}

// Check admits or rejects a request. The returned Decision carries the
// resolved identity on success.
func (g *Gate) Check(ctx context.Context, apiKey, callerIP string) (*Decision, error) {
	if !g.disableRateLimit && !g.limiter.Allow(callerIP) {
		return nil, apierror.RateLimited(g.rateLimit)
	}

	if apiKey == "" {
		return nil, apierror.Unauthorized("missing API key")
	}
	identity, err := g.keys.Resolve(ctx, apiKey)
	if errors.Is(err, postgres.ErrNotFound) {
		return nil, apierror.Unauthorized("invalid API key")
	}
	if err != nil {
		return nil, apierror.Storage("resolving API key", err)
	}

	decision := &Decision{Identity: identity}

	profile, err := g.usage.GetProfile(ctx, identity.UserID)
	if err != nil {
		return g.failOpen(ctx, decision, "loading usage profile", err), nil
	}

	windowStart := WindowStart(profile.LastUsageResetAt, g.now())
	count, err := g.usage.CountLogsSince(ctx, identity.UserID, windowStart)
	if err != nil {
		return g.failOpen(ctx, decision, "counting usage", err), nil
	}

	limit := ParseTier(profile.Tier).Limit()
	decision.Limit = limit
	decision.Usage = count

	if count >= limit {
		return nil, apierror.QuotaExceeded(limit, count)
	}
	if count*5 >= limit*4 {
		g.logger.Warn(ctx, "usage above 80% of quota",
			zap.String("user_id", identity.UserID),
			zap.Int("usage", count),
			zap.Int("limit", limit))
	}

	return decision, nil
}

// failOpen admits the request despite an internal quota error.
func (g *Gate) failOpen(ctx context.Context, d *Decision, step string, err error) *Decision {
	d.FailedOpen = true
	g.logger.Error(ctx, "quota gate failing open",
		zap.String("step", step),
		zap.Error(err))
	return d
}

// LogUsage appends one usage record, best-effort. Failures are logged and
// never surface to the caller.
func (g *Gate) LogUsage(ctx context.Context, userID, endpoint string, success bool) {
	err := g.usage.InsertLog(ctx, postgres.UsageLogEntry{
		UserID:   userID,
		Endpoint: endpoint,
		Success:  success,
	})
	if err != nil {
		g.logger.Warn(ctx, "usage log write failed",
			zap.String("user_id", userID),
			zap.String("endpoint", endpoint),
			zap.Error(err))
	}
}
