package analysis_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"epub-converter-service/internal/analysis"
	"epub-converter-service/internal/provider"
)

func testPolicy() analysis.Policy {
	return analysis.Policy{
		MaxAttempts:     3,
		UnknownAttempts: 2,
		BaseDelay:       time.Second,
		Multipliers:     []int{1, 5, 15},
		MaxDelay:        time.Minute,
	}
}

func TestDecide_PermanentFailsImmediately(t *testing.T) {
	p := testPolicy()

	for attempt := 1; attempt <= 5; attempt++ {
		action := p.Decide(attempt, provider.ClassPermanent)
		assert.Equal(t, analysis.ActionFail, action.Kind, "attempt %d", attempt)
	}
}

func TestDecide_TransientBackoffSequence(t *testing.T) {
	p := testPolicy()

	a1 := p.Decide(1, provider.ClassTransient)
	assert.Equal(t, analysis.ActionRetry, a1.Kind)
	assert.Equal(t, 1*time.Second, a1.Delay)

	a2 := p.Decide(2, provider.ClassTransient)
	assert.Equal(t, analysis.ActionRetry, a2.Kind)
	assert.Equal(t, 5*time.Second, a2.Delay)

	a3 := p.Decide(3, provider.ClassTransient)
	assert.Equal(t, analysis.ActionSwitch, a3.Kind)
}

func TestDecide_UnknownHasLowerCeiling(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, analysis.ActionRetry, p.Decide(1, provider.ClassUnknown).Kind)
	assert.Equal(t, analysis.ActionSwitch, p.Decide(2, provider.ClassUnknown).Kind)
}

func TestDecide_IsDeterministic(t *testing.T) {
	p := testPolicy()

	for i := 0; i < 10; i++ {
		assert.Equal(t, p.Decide(2, provider.ClassTransient), p.Decide(2, provider.ClassTransient))
	}
}

func TestDecide_BackoffCappedAtMaxDelay(t *testing.T) {
	p := testPolicy()
	p.MaxDelay = 3 * time.Second

	a := p.Decide(2, provider.ClassTransient)
	assert.Equal(t, analysis.ActionRetry, a.Kind)
	assert.Equal(t, 3*time.Second, a.Delay)
}
