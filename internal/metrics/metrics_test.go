package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLoanEventCountsAndAmounts(t *testing.T) {
	before := testutil.ToFloat64(loanEvents.WithLabelValues("approved"))
	LoanEvent("approved", 12_500)
	LoanEvent("approved", 0)

	require.Equal(t, before+2, testutil.ToFloat64(loanEvents.WithLabelValues("approved")))
	require.GreaterOrEqual(t, testutil.ToFloat64(loanAmount.WithLabelValues("approved")), 12_500.0)
}

func TestObserveHTTPDefaultsRoute(t *testing.T) {
	ObserveHTTP("get", "", 404, 3*time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404")))
}

func TestRequestStartedBalancesGauge(t *testing.T) {
	done := RequestStarted()
	require.Equal(t, 1.0, testutil.ToFloat64(httpInFlight))
	done()
	require.Equal(t, 0.0, testutil.ToFloat64(httpInFlight))
}
