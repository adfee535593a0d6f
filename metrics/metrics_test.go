package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordOperation(t *testing.T) {
	ok := OperationsTotal.WithLabelValues("unwrap", ResultOK)
	failed := OperationsTotal.WithLabelValues("unwrap", ResultError)
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	RecordOperation("unwrap", nil)
	RecordOperation("unwrap", nil)
	RecordOperation("unwrap", errors.New("card removed"))

	assert.Equal(t, okBefore+2, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}

func TestRecordRetry(t *testing.T) {
	c := ReauthRetriesTotal.WithLabelValues("derive")
	before := testutil.ToFloat64(c)
	RecordRetry("derive")
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestObserveCall(t *testing.T) {
	before := testutil.CollectAndCount(DeviceCallDuration)
	ObserveCall("metrics_test_call", time.Now().Add(-10*time.Millisecond))
	assert.Equal(t, before+1, testutil.CollectAndCount(DeviceCallDuration))
}
