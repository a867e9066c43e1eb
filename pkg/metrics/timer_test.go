package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}

	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()

	sleep := 100 * time.Millisecond
	time.Sleep(sleep)

	duration := timer.Duration()
	if duration < sleep {
		t.Errorf("Timer.Duration() = %v, want >= %v", duration, sleep)
	}
}

func TestTimerDurationMonotonic(t *testing.T) {
	timer := NewTimer()

	var last time.Duration
	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		duration := timer.Duration()

		if duration <= last {
			t.Errorf("iteration %d: duration should keep increasing, last=%v, current=%v", i, last, duration)
		}
		last = duration
	}
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cycle_test_duration_seconds",
		Help:    "Test cycle duration histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(50 * time.Millisecond)

	// Must not panic and must have measured something
	timer.ObserveDuration(histogram)

	if timer.Duration() == 0 {
		t.Error("Timer.ObserveDuration() recorded zero duration")
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scan_test_duration_seconds",
			Help:    "Test scan duration histogram vec",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	timer := NewTimer()
	time.Sleep(50 * time.Millisecond)

	timer.ObserveDurationVec(histogramVec, "success")

	if timer.Duration() == 0 {
		t.Error("Timer.ObserveDurationVec() recorded zero duration")
	}
}

func TestTimersAreIndependent(t *testing.T) {
	older := NewTimer()
	time.Sleep(50 * time.Millisecond)
	newer := NewTimer()
	time.Sleep(50 * time.Millisecond)

	if older.Duration() <= newer.Duration() {
		t.Errorf("older timer should report more elapsed time: older=%v, newer=%v",
			older.Duration(), newer.Duration())
	}
}
