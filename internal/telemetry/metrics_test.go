package telemetry

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBugResolutionsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(BugResolutions.WithLabelValues(OutcomeCreated))
	BugResolutions.WithLabelValues(OutcomeCreated).Inc()

	if got := testutil.ToFloat64(BugResolutions.WithLabelValues(OutcomeCreated)); got != before+1 {
		t.Errorf("created resolutions = %v, want %v", got, before+1)
	}
}

func TestObserveGit(t *testing.T) {
	ObserveGit("blame", time.Now().Add(-10*time.Millisecond))

	if n := testutil.CollectAndCount(GitCommandDuration); n == 0 {
		t.Error("expected git duration series to be collected")
	}
}

func TestWriteText(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "faultline_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	var buf bytes.Buffer
	if err := WriteText(&buf, reg); err != nil {
		t.Fatalf("WriteText() error = %v", err)
	}
	if !strings.Contains(buf.String(), "faultline_test_total 3") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}
