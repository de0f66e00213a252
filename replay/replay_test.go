package replay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstOccurrencePassesSecondRejected(t *testing.T) {
	g := New(0, 0)
	require.NoError(t, g.CheckAndRegister(1, 1000, 1000))
	err := g.CheckAndRegister(1, 1000, 1000)
	require.ErrorIs(t, err, ErrDuplicateNonce)
}

func TestTimestampOutsideSkewRejected(t *testing.T) {
	g := New(300_000, 0)
	err := g.CheckAndRegister(1, 0, 400_000)
	require.ErrorIs(t, err, ErrTimestampOutOfRange)
}

func TestTimestampWithinSkewAccepted(t *testing.T) {
	g := New(300_000, 0)
	require.NoError(t, g.CheckAndRegister(1, 100_000, 350_000))
}

func TestCapacityEvictsOldestHalf(t *testing.T) {
	g := New(0, 10)
	for i := uint64(1); i <= 11; i++ {
		require.NoError(t, g.CheckAndRegister(i, 0, 0))
	}
	// after exceeding capacity once, half the window was evicted
	require.LessOrEqual(t, g.Len(), 10)

	// a nonce older than the new minimum is rejected as stale even though
	// it was never explicitly seen
	err := g.CheckAndRegister(1, 0, 0)
	require.ErrorIs(t, err, ErrDuplicateNonce)
}
