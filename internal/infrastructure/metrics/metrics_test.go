package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLMSMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLMS(reg)

	m.ObserveOperation("get_student_grades", true, "", 20*time.Millisecond)
	m.ObserveOperation("get_student_grades", false, "transport", time.Second)
	m.IncRetry("get_student_grades")
	m.IncRetry("get_student_grades")
	m.ObserveAuth(SourceCache, true)
	m.ObserveRequest("grades", 503)
	m.ObserveRequest("", 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	v, err := counterValue(mfs, "lms_assistant_retries_total", map[string]string{"operation": "get_student_grades"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	v, err = counterValue(mfs, "lms_assistant_operations_total", map[string]string{"outcome": "failure", "kind": "transport"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = counterValue(mfs, "lms_assistant_auth_total", map[string]string{"source": "cache", "outcome": "success"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = counterValue(mfs, "lms_assistant_http_requests_total", map[string]string{"endpoint": "unknown", "code": "none"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var m *LMS
	assert.NotPanics(t, func() {
		m.ObserveOperation("x", true, "", time.Second)
		m.IncRetry("x")
		m.ObserveAuth(SourceRemote, false)
		m.ObserveRequest("x", 200)
	})

	empty := NewLMS(nil)
	assert.NotPanics(t, func() { empty.IncRetry("x") })
}

func counterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchesLabels(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue(), nil
			}
		}
	}
	return 0, fmt.Errorf("metric %q with labels %v not found", name, labels)
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	found := 0
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok && v == p.GetValue() {
			found++
		}
	}
	return found == len(want)
}
