package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(Operations.WithLabelValues("attach", OutcomeRejected))
	failures := testutil.ToFloat64(ValidationFailures.WithLabelValues("attach"))

	ObserveOperation("attach", OutcomeRejected, time.Now())

	assert.Equal(t, before+1, testutil.ToFloat64(Operations.WithLabelValues("attach", OutcomeRejected)))
	assert.Equal(t, failures+1, testutil.ToFloat64(ValidationFailures.WithLabelValues("attach")))

	ObserveOperation("attach", OutcomeSuccess, time.Now())
	assert.Equal(t, failures+1, testutil.ToFloat64(ValidationFailures.WithLabelValues("attach")))
}
