package provider_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"epub-converter-service/internal/provider"
)

func TestFromStatus_Classification(t *testing.T) {
	transient := []int{
		http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
	for _, code := range transient {
		assert.Equal(t, provider.ClassTransient, provider.FromStatus("p", "analyze", code).Class, "status %d", code)
	}

	permanent := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType,
		http.StatusUnprocessableEntity,
	}
	for _, code := range permanent {
		assert.Equal(t, provider.ClassPermanent, provider.FromStatus("p", "analyze", code).Class, "status %d", code)
	}

	assert.Equal(t, provider.ClassUnknown, provider.FromStatus("p", "analyze", http.StatusTeapot).Class)
}

func TestClassOf_WalksTheChain(t *testing.T) {
	inner := provider.Transient("primary", "analyze", errors.New("timeout"))
	wrapped := fmt.Errorf("stage analyze: %w", inner)

	assert.Equal(t, provider.ClassTransient, provider.ClassOf(wrapped))
	assert.Equal(t, provider.ClassUnknown, provider.ClassOf(errors.New("plain")))
	assert.Equal(t, provider.ClassUnknown, provider.ClassOf(nil))
}

func TestError_MessageOmitsBodies(t *testing.T) {
	err := provider.FromStatus("primary", "analyze", http.StatusUnauthorized)

	// the persisted message carries status and class only
	assert.Equal(t, "primary: analyze: permanent error: HTTP 401", err.Error())
}
