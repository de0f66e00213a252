package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpecTable(t *testing.T) {
	c := New()
	require.EqualValues(t, 30_000, c.SessionTimeoutMillis)
	require.EqualValues(t, 100, c.MaxStreams)
	require.EqualValues(t, 10, c.AckBatchSize)
	require.True(t, c.EnableHeaderCompression)
	require.EqualValues(t, 0, c.CoalescingWindowMillis)
}

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	var c Config
	c.MaxStreams = 42
	filled := c.withDefaults()
	require.EqualValues(t, 42, filled.MaxStreams)
	require.EqualValues(t, 30_000, filled.SessionTimeoutMillis)
}
