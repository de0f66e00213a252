package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectorsWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, 7)
	c.FramesSent.Inc()
	c.BytesSent.Add(128)
	c.CongestionWindow.Set(12000)

	var m dto.Metric
	require.NoError(t, c.FramesSent.Write(&m))
	require.Equal(t, 1.0, m.GetCounter().GetValue())
}

func TestUint64ToLabelIsStable(t *testing.T) {
	require.Equal(t, "0", uint64ToLabel(0))
	require.Equal(t, "ff", uint64ToLabel(255))
}
