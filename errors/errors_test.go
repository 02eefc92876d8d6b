package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestWrapFormat(t *testing.T) {
	err := Wrap(ErrServiceNotRunning, "Relay", "Forward", "endpoint resolution")
	require.Error(t, err)
	assert.Equal(t,
		"Relay.Forward: endpoint resolution failed: service not running on this node",
		err.Error())
	assert.True(t, Is(err, ErrServiceNotRunning))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassifiedWrappers(t *testing.T) {
	base := New("boom")

	transient := WrapTransient(base, "Bus", "Publish", "delivery")
	invalid := WrapInvalid(base, "Registry", "Load", "descriptor validation")
	fatal := WrapFatal(base, "Locator", "Resolve", "port lookup")

	assert.True(t, IsTransient(transient))
	assert.False(t, IsTransient(invalid))
	assert.True(t, IsInvalid(invalid))
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsFatal(invalid))

	// Wrapped classification survives another layer of fmt wrapping
	outer := fmt.Errorf("handler: %w", fatal)
	assert.True(t, IsFatal(outer))

	var ce *ClassifiedError
	require.True(t, As(fatal, &ce))
	assert.Equal(t, "Locator", ce.Component)
	assert.Equal(t, "Resolve", ce.Operation)
	assert.Equal(t, ErrorFatal, ce.Class)
}

func TestSentinelClassification(t *testing.T) {
	assert.True(t, IsTransient(ErrBackendUnavailable))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsFatal(ErrMissingPortConfig))
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsInvalid(ErrUnknownService))
	assert.True(t, IsInvalid(ErrInvalidStrategy))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrUnknownPrefix))
	assert.True(t, IsNotFound(ErrServiceNotRunning))
	assert.True(t, IsNotFound(Wrap(ErrServiceNotRunning, "Relay", "Forward", "resolve")))
	assert.False(t, IsNotFound(ErrBackendUnavailable))
	assert.False(t, IsNotFound(nil))
}

func TestClassifyDefaults(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(nil))
	assert.Equal(t, ErrorTransient, Classify(New("connection refused")))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorInvalid, Classify(ErrParsingFailed))
}
