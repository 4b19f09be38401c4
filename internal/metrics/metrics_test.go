package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDispatch(t *testing.T) {
	okBefore := testutil.ToFloat64(dispatchedTotal)
	errBefore := testutil.ToFloat64(dispatchErrorsTotal)

	RecordDispatch(nil)
	RecordDispatch(nil)
	RecordDispatch(errors.New("connection refused"))

	assert.Equal(t, okBefore+2, testutil.ToFloat64(dispatchedTotal))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(dispatchErrorsTotal))
}

func TestRecordCompletion(t *testing.T) {
	success := completionsTotal.WithLabelValues(OutcomeSuccess)
	failure := completionsTotal.WithLabelValues(OutcomeFailure)
	sBefore, fBefore := testutil.ToFloat64(success), testutil.ToFloat64(failure)

	RecordCompletion(true, 20*time.Millisecond)
	RecordCompletion(false, 0)

	assert.Equal(t, sBefore+1, testutil.ToFloat64(success))
	assert.Equal(t, fBefore+1, testutil.ToFloat64(failure))
}

func TestSetQueues(t *testing.T) {
	SetQueues(3, 1, 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(pendingItems))
	assert.Equal(t, 1.0, testutil.ToFloat64(idleWorkers))
	assert.Equal(t, 2.0, testutil.ToFloat64(registeredWorkers))
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	Register()
	Register() // idempotent
	RecordPoll()
	RecordDropped("observer")
	RecordDelivery(true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		"smsalert_observer_status_polls_total",
		"smsalert_dropped_messages_total",
		"smsalert_worker_deliveries_total",
	} {
		assert.True(t, strings.Contains(body, name), "missing %s", name)
	}
}
