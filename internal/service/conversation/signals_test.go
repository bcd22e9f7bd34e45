package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectSignals(t *testing.T) {
	t.Run("cross-session reference", func(t *testing.T) {
		signals := DetectSignals("Remember when we discussed pricing last week?")
		require.Len(t, signals, 2)
		for _, sig := range signals {
			assert.Equal(t, SignalCrossSession, sig.Kind)
			assert.InDelta(t, 0.9, sig.Confidence, 1e-9)
		}
	})

	t.Run("temporal reference", func(t *testing.T) {
		signals := DetectSignals("earlier in this conversation you listed three options")
		require.Len(t, signals, 1)
		assert.Equal(t, SignalTemporal, signals[0].Kind)
		assert.InDelta(t, 0.8, signals[0].Confidence, 1e-9)
	})

	t.Run("implicit reference", func(t *testing.T) {
		signals := DetectSignals("going back to that thing we discussed")
		require.Len(t, signals, 2)
		kinds := map[SignalKind]bool{}
		for _, sig := range signals {
			kinds[sig.Kind] = true
		}
		assert.True(t, kinds[SignalImplicit])
	})

	t.Run("mixed kinds in one message", func(t *testing.T) {
		signals := DetectSignals("as we discussed yesterday, and remember when it failed")
		kinds := map[SignalKind]bool{}
		for _, sig := range signals {
			kinds[sig.Kind] = true
		}
		assert.True(t, kinds[SignalImplicit])
		assert.True(t, kinds[SignalTemporal])
		assert.True(t, kinds[SignalCrossSession])
	})

	t.Run("case insensitive", func(t *testing.T) {
		signals := DetectSignals("LAST WEEK you said otherwise")
		require.Len(t, signals, 1)
		assert.Equal(t, "last week", signals[0].Trigger)
	})

	t.Run("plain message has no signals", func(t *testing.T) {
		assert.Empty(t, DetectSignals("what is the capital of peru"))
		assert.Empty(t, DetectSignals(""))
	})
}
