package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySchedulerErrorType(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerErrorTypeDeadlineExceeded},
		{name: "wrapped cancel", err: fmt.Errorf("reconcile: %w", context.Canceled), want: SchedulerErrorTypeDeadlineExceeded},
		{name: "lock timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerErrorTypeDB},
		{name: "unknown", err: errors.New("boom"), want: SchedulerErrorTypeUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySchedulerErrorType(tc.err))
		})
	}
}

func TestSchedulerMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewSchedulerMetrics(reg)
	require.NoError(t, err)

	m.IncJobRun("reconcile_balances")
	m.AddProcessed("reconcile_balances", 3)
	m.AddProcessed("reconcile_balances", 0)
	m.IncJobError("reconcile_balances", errors.New("boom"))
	m.IncJobTimeout("reconcile_balances")
	m.ObserveJobDuration("reconcile_balances", 250*time.Millisecond)
	m.IncBalanceDrift()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("reconcile_balances")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.batchProcessed.WithLabelValues("reconcile_balances")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobErrors.WithLabelValues("reconcile_balances", SchedulerErrorTypeUnknown)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobTimeouts.WithLabelValues("reconcile_balances")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.balanceDrift))
}

func TestSchedulerMetrics_NilSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.IncJobRun("x")
	m.AddProcessed("x", 1)
	m.IncJobError("x", errors.New("boom"))
	m.IncBalanceDrift()
}
