/*
Copyright 2024 The Forge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics holds the process-wide Prometheus instruments for build
// and launch timing, and the counters of in-flight work.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var timingBuckets = []float64{1, 5, 10, 30, 60, 300, 600}

var (
	// BuildTimeSeconds observes how long a build took, labeled by outcome.
	BuildTimeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "build_time_seconds",
		Help:    "Time to build an image, in seconds.",
		Buckets: timingBuckets,
	}, []string{"status"})

	// LaunchTimeSeconds observes how long a launch took, labeled by outcome.
	LaunchTimeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "launch_time_seconds",
		Help:    "Time to launch a server on the hub, in seconds.",
		Buckets: timingBuckets,
	}, []string{"status"})

	// InprogressBuilds is the number of builds currently running.
	InprogressBuilds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inprogress_builds",
		Help: "Number of builds currently in progress.",
	})

	// InprogressLaunches is the number of launches currently running.
	InprogressLaunches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inprogress_launches",
		Help: "Number of launches currently in progress.",
	})
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// RecordBuildTime observes a completed build's latency.
func RecordBuildTime(status string, d time.Duration) {
	BuildTimeSeconds.WithLabelValues(status).Observe(d.Seconds())
}

// RecordLaunchTime observes a completed launch's latency.
func RecordLaunchTime(status string, d time.Duration) {
	LaunchTimeSeconds.WithLabelValues(status).Observe(d.Seconds())
}

// TrackBuild increments InprogressBuilds and returns a func that
// decrements it; callers defer the returned func so the gauge is
// decremented on every exit path, including panics and early returns.
func TrackBuild() func() {
	InprogressBuilds.Inc()
	return InprogressBuilds.Dec
}

// TrackLaunch increments InprogressLaunches and returns a func that
// decrements it, with the same all-exit-paths guarantee as TrackBuild.
func TrackLaunch() func() {
	InprogressLaunches.Inc()
	return InprogressLaunches.Dec
}
