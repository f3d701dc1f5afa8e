package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAttemptCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(UpstreamErrorsTotal.WithLabelValues("fal", "network_failure"))
	RecordAttempt("fal", RolePrimary, 0.2, "network_failure")
	RecordAttempt("fal", RolePrimary, 0.1, "")

	after := testutil.ToFloat64(UpstreamErrorsTotal.WithLabelValues("fal", "network_failure"))
	if after-before != 1 {
		t.Errorf("error counter delta = %v, want 1", after-before)
	}
}

func TestRecordUsage(t *testing.T) {
	in := testutil.ToFloat64(TokenUsageTotal.WithLabelValues("chat", "input"))
	out := testutil.ToFloat64(TokenUsageTotal.WithLabelValues("chat", "output"))

	RecordUsage("chat", 12, 30)

	if got := testutil.ToFloat64(TokenUsageTotal.WithLabelValues("chat", "input")) - in; got != 12 {
		t.Errorf("input delta = %v, want 12", got)
	}
	if got := testutil.ToFloat64(TokenUsageTotal.WithLabelValues("chat", "output")) - out; got != 30 {
		t.Errorf("output delta = %v, want 30", got)
	}
}
