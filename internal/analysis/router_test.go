package analysis_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epub-converter-service/internal/analysis"
	"epub-converter-service/internal/provider"
)

// scriptedProvider returns the scripted errors in order, then succeeds.
type scriptedProvider struct {
	name   string
	script []error
	calls  int
	result *provider.Result
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Analyze(ctx context.Context, req provider.Request) (*provider.Result, error) {
	p.calls++
	if p.calls <= len(p.script) {
		if err := p.script[p.calls-1]; err != nil {
			return nil, err
		}
	}
	if p.result != nil {
		return p.result, nil
	}
	return &provider.Result{
		Chapters: []provider.Chapter{{Title: "Intro", Order: 1}},
		Elements: map[string]int64{"images": 3},
	}, nil
}

func fastPolicy() analysis.Policy {
	// zero delays keep the retry loop instant in tests
	return analysis.Policy{MaxAttempts: 3, UnknownAttempts: 2, BaseDelay: 0, Multipliers: []int{1, 5, 15}}
}

func transientErr(name string) error {
	return provider.Transient(name, "analyze", errors.New("timeout"))
}

func TestAnalyze_PrimarySucceedsAfterTwoTimeouts(t *testing.T) {
	primary := &scriptedProvider{name: "primary", script: []error{transientErr("primary"), transientErr("primary")}}
	fallback := &scriptedProvider{name: "fallback"}
	router := analysis.NewRouter(primary, fallback, fastPolicy(), zerolog.Nop())

	res, served, err := router.Analyze(context.Background(), provider.Request{ContentRef: "ref"})

	require.NoError(t, err)
	assert.Equal(t, "primary", served)
	assert.Equal(t, 3, primary.calls)
	assert.Equal(t, 0, fallback.calls, "fallback must not be invoked")
	assert.Len(t, res.Chapters, 1)
}

func TestAnalyze_FallbackInvokedExactlyOnceAfterPrimaryExhausted(t *testing.T) {
	primary := &scriptedProvider{name: "primary", script: []error{
		transientErr("primary"), transientErr("primary"), transientErr("primary"), transientErr("primary"),
	}}
	fallback := &scriptedProvider{name: "fallback", result: &provider.Result{
		Chapters: []provider.Chapter{{Title: "Intro", Order: 1}},
		Elements: map[string]int64{"images": 3},
	}}
	router := analysis.NewRouter(primary, fallback, fastPolicy(), zerolog.Nop())

	res, served, err := router.Analyze(context.Background(), provider.Request{ContentRef: "ref"})

	require.NoError(t, err)
	assert.Equal(t, "fallback", served)
	assert.Equal(t, 3, primary.calls, "primary retried to its ceiling")
	assert.Equal(t, 1, fallback.calls, "fallback invoked exactly once")

	// result schema is identical regardless of serving provider
	assert.Equal(t, []provider.Chapter{{Title: "Intro", Order: 1}}, res.Chapters)
	assert.Equal(t, map[string]int64{"images": 3}, res.Elements)
}

func TestAnalyze_PermanentErrorShortCircuits(t *testing.T) {
	permErr := provider.Permanent("primary", "analyze", errors.New("invalid credentials"))
	primary := &scriptedProvider{name: "primary", script: []error{permErr, permErr, permErr}}
	fallback := &scriptedProvider{name: "fallback"}
	router := analysis.NewRouter(primary, fallback, fastPolicy(), zerolog.Nop())

	_, _, err := router.Analyze(context.Background(), provider.Request{ContentRef: "ref"})

	require.Error(t, err)
	assert.Equal(t, provider.ClassPermanent, provider.ClassOf(err))
	assert.Equal(t, 1, primary.calls, "zero retries on permanent error")
	assert.Equal(t, 0, fallback.calls, "zero fallback invocations on permanent error")
}

func TestAnalyze_BothProvidersExhausted(t *testing.T) {
	failing := func(name string) []error {
		return []error{transientErr(name), transientErr(name), transientErr(name)}
	}
	primary := &scriptedProvider{name: "primary", script: failing("primary")}
	fallback := &scriptedProvider{name: "fallback", script: failing("fallback")}
	router := analysis.NewRouter(primary, fallback, fastPolicy(), zerolog.Nop())

	_, served, err := router.Analyze(context.Background(), provider.Request{ContentRef: "ref"})

	require.Error(t, err)
	assert.Empty(t, served)
	assert.Equal(t, provider.ClassTransient, provider.ClassOf(err))
	assert.Equal(t, 3, primary.calls)
	assert.Equal(t, 3, fallback.calls)
}

func TestAnalyze_CancellationSkipsFallback(t *testing.T) {
	primary := &scriptedProvider{name: "primary", script: []error{transientErr("primary")}}
	fallback := &scriptedProvider{name: "fallback"}
	router := analysis.NewRouter(primary, fallback, fastPolicy(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, served, err := router.Analyze(ctx, provider.Request{ContentRef: "ref"})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, served)
	assert.Equal(t, 1, primary.calls, "no retry on a dead context")
	assert.Equal(t, 0, fallback.calls, "fallback never invoked on a dead context")
}

func TestAnalyze_NoFallbackConfigured(t *testing.T) {
	primary := &scriptedProvider{name: "primary", script: []error{
		transientErr("primary"), transientErr("primary"), transientErr("primary"),
	}}
	router := analysis.NewRouter(primary, nil, fastPolicy(), zerolog.Nop())

	_, _, err := router.Analyze(context.Background(), provider.Request{ContentRef: "ref"})

	require.Error(t, err)
	assert.Equal(t, 3, primary.calls)
}
