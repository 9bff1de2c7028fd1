package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordForward(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("metrics-test", "forwarded"))

	RecordForward("metrics-test", "e1", "forwarded", 0.25)
	RecordForward("metrics-test", "e2", "forwarded", 0.5)

	assert.Equal(t, before+2, testutil.ToFloat64(RequestsTotal.WithLabelValues("metrics-test", "forwarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(EndpointSelections.WithLabelValues("metrics-test", "e1")))
}

func TestRecordNoEndpoint(t *testing.T) {
	RecordNoEndpoint("metrics-test-empty")
	assert.Equal(t, 1.0, testutil.ToFloat64(RequestsTotal.WithLabelValues("metrics-test-empty", "no_endpoint")))
}

func TestRecordForwardRate(t *testing.T) {
	RecordForwardRate(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(ForwardRate))
}
