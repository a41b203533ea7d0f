// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package jql

import (
	"time"

	"github.com/featurebasedb/jql/lock"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricDDLStatements  = "ddl_statements_total"
	MetricSessionsActive = "sessions_active"
	MetricSandboxCommits = "sandbox_commits_total"
	MetricLockWait       = "lock_wait_seconds"
)

// Outcome label values.
const (
	outcomeOK    = "ok"
	outcomeNoop  = "noop"
	outcomeError = "error"
)

var CounterDDLStatements = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "jql",
		Name:      MetricDDLStatements,
		Help:      "DDL statements executed, by statement kind and outcome.",
	},
	[]string{
		"statement",
		"outcome",
	},
)

var GaugeSessionsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "jql",
		Name:      MetricSessionsActive,
		Help:      "Sessions currently open.",
	},
)

var CounterSandboxCommits = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "jql",
		Name:      MetricSandboxCommits,
		Help:      "Sandbox commits, by outcome.",
	},
	[]string{
		"outcome",
	},
)

var HistogramLockWait = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "jql",
		Name:      MetricLockWait,
		Help:      "Time table lock requests spent queued before being granted.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	},
	[]string{
		"mode",
	},
)

func init() {
	prometheus.MustRegister(CounterDDLStatements)
	prometheus.MustRegister(GaugeSessionsActive)
	prometheus.MustRegister(CounterSandboxCommits)
	prometheus.MustRegister(HistogramLockWait)
}

// outcome returns the outcome label for a DDL call.
func outcome(n int, err error) string {
	switch {
	case err != nil:
		return outcomeError
	case n == 0:
		return outcomeNoop
	default:
		return outcomeOK
	}
}

// observeLockWait is installed on every TableLock the Database creates.
func observeLockWait(mode lock.Mode, wait time.Duration) {
	HistogramLockWait.WithLabelValues(mode.String()).Observe(wait.Seconds())
}
