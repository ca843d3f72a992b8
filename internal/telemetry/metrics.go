// Package telemetry holds the process-wide Prometheus metrics.
package telemetry

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Resolution outcomes of find-or-create.
const (
	OutcomeFound     = "found"
	OutcomeRepointed = "repointed"
	OutcomeCreated   = "created"
)

var (
	// BlameCacheHits counts blame lookups answered from the durable cache
	BlameCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faultline_blame_cache_hits_total",
		Help: "Blame lookups answered from the cache",
	})

	// BlameCacheMisses counts blame lookups that reached the repository
	BlameCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faultline_blame_cache_misses_total",
		Help: "Blame lookups that invoked the repository",
	})

	// BlameCacheEvictions counts entries removed to stay under capacity
	BlameCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faultline_blame_cache_evictions_total",
		Help: "Blame cache entries evicted",
	})

	// BlameFailures counts repository blame failures by error code
	BlameFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faultline_blame_failures_total",
		Help: "Repository blame failures by error code",
	}, []string{"code"})

	// BugResolutions counts find-or-create results by outcome
	BugResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faultline_bug_resolutions_total",
		Help: "Occurrence to bug resolutions by outcome",
	}, []string{"outcome"})

	// Reopens counts bugs reopened by reason
	Reopens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faultline_bug_reopens_total",
		Help: "Bugs reopened by reason",
	}, []string{"reason"})

	// GitCommandDuration tracks git subprocess latency by subcommand
	GitCommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faultline_git_command_duration_seconds",
		Help:    "Git command duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
	}, []string{"command"})
)

// ObserveGit records the duration of a git subcommand started at start.
func ObserveGit(command string, start time.Time) {
	GitCommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}

// WriteText writes every registered metric family in the Prometheus text
// exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
