package analysis

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"epub-converter-service/internal/provider"
)

// Router exposes one Analyze operation over a primary and an optional
// fallback provider. Transient errors are retried per policy on the current
// provider; exhausting the primary switches to the fallback exactly once;
// a permanent error fails immediately from either provider. The result
// schema is identical regardless of which provider served the request.
type Router struct {
	primary  provider.Client
	fallback provider.Client
	policy   Policy
	log      zerolog.Logger
}

func NewRouter(primary, fallback provider.Client, policy Policy, log zerolog.Logger) *Router {
	return &Router{
		primary:  primary,
		fallback: fallback,
		policy:   policy,
		log:      log.With().Str("component", "analysis_router").Logger(),
	}
}

// Analyze returns the typed result, the name of the provider that actually
// served it, and the classified error after all retries and the fallback are
// exhausted.
func (r *Router) Analyze(ctx context.Context, req provider.Request) (*provider.Result, string, error) {
	clients := []provider.Client{r.primary}
	if r.fallback != nil {
		clients = append(clients, r.fallback)
	}

	var lastErr error
	for i, client := range clients {
		res, err := r.analyzeWith(ctx, client, req)
		if err == nil {
			return res, client.Name(), nil
		}
		lastErr = err

		// a canceled context aborts the whole operation; the fallback would
		// only inherit the same dead context
		if ctx.Err() != nil {
			return nil, "", err
		}
		if provider.ClassOf(err) == provider.ClassPermanent {
			return nil, "", err
		}
		if i < len(clients)-1 {
			r.log.Warn().
				Str("from", client.Name()).
				Str("to", clients[i+1].Name()).
				Err(err).
				Msg("provider exhausted, switching to fallback")
		}
	}
	return nil, "", lastErr
}

// analyzeWith runs the retry loop for a single provider.
func (r *Router) analyzeWith(ctx context.Context, client provider.Client, req provider.Request) (*provider.Result, error) {
	for attempt := 1; ; attempt++ {
		res, err := client.Analyze(ctx, req)
		if err == nil {
			return res, nil
		}

		action := r.policy.Decide(attempt, provider.ClassOf(err))
		switch action.Kind {
		case ActionRetry:
			r.log.Warn().
				Str("provider", client.Name()).
				Int("attempt", attempt).
				Dur("delay", action.Delay).
				Err(err).
				Msg("transient provider error, retrying")
			if serr := sleepCtx(ctx, action.Delay); serr != nil {
				// cancellation is not a provider failure; surface it as is
				return nil, serr
			}
		default:
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// still honor cancellation between zero-delay attempts
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
