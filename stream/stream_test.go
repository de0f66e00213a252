package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAssignsMonotonicIDsStartingAtOne(t *testing.T) {
	tbl := NewTable(2)
	s1, err := tbl.Open(1, DeliveryMode{Tag: Reliable})
	require.NoError(t, err)
	require.EqualValues(t, 1, s1.ID)
	require.Equal(t, Open, s1.State())

	s2, err := tbl.Open(2, DeliveryMode{Tag: BestEffort})
	require.NoError(t, err)
	require.EqualValues(t, 2, s2.ID)
}

func TestOpenFailsAtCap(t *testing.T) {
	tbl := NewTable(1)
	_, err := tbl.Open(0, DeliveryMode{Tag: Reliable})
	require.NoError(t, err)
	_, err = tbl.Open(0, DeliveryMode{Tag: Reliable})
	require.ErrorIs(t, err, ErrMaxStreamsReached)
}

func TestIDNeverReappearsAfterClosed(t *testing.T) {
	tbl := NewTable(1)
	s, err := tbl.Open(0, DeliveryMode{Tag: Reliable})
	require.NoError(t, err)
	require.NoError(t, tbl.Close(s.ID))
	require.NoError(t, tbl.Finalize(s.ID))
	tbl.ReapClosed()

	_, err = tbl.Get(s.ID)
	require.ErrorIs(t, err, ErrStreamNotFound)

	// the table has room again, but the next id is still 2, never 1
	s2, err := tbl.Open(0, DeliveryMode{Tag: Reliable})
	require.NoError(t, err)
	require.EqualValues(t, 2, s2.ID)
}

func TestCanSendRequiresOpenAndWindow(t *testing.T) {
	tbl := NewTable(1)
	s, err := tbl.Open(0, DeliveryMode{Tag: Reliable})
	require.NoError(t, err)
	require.True(t, s.CanSend())

	s.ReserveSend(DefaultWindowBytes)
	require.False(t, s.CanSend())

	s.GrantSendWindow(100)
	require.True(t, s.CanSend())
}
