package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"job-status-stream/internal/metrics"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(metrics.DisconnectNotices.WithLabelValues("urgent", "failure"))
	metrics.IncDisconnectNotice("urgent", false)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DisconnectNotices.WithLabelValues("urgent", "failure")))

	before = testutil.ToFloat64(metrics.TransportOpens.WithLabelValues("success"))
	metrics.IncTransportOpen(true)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.TransportOpens.WithLabelValues("success")))

	before = testutil.ToFloat64(metrics.Frames.WithLabelValues("malformed"))
	metrics.IncFrame("malformed")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Frames.WithLabelValues("malformed")))
}
