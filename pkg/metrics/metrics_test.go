package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with defaults on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then collectors are registered under the tally namespace", func() {
				So(manager, ShouldNotBeNil)

				manager.queueSize.Set(3)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "tally_telemetry_queue_size")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("lms"),
				WithSubsystem("events"),
				WithHistogramBuckets([]float64{1, 5, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options are applied", func() {
				So(manager.namespace, ShouldEqual, "lms")
				So(manager.subsystem, ShouldEqual, "events")
				So(manager.histogramBuckets, ShouldResemble, []float64{1, 5, 10})

				manager.queueOverflow.Inc()
				expected := `
# HELP lms_events_queue_overflow_total Events evicted because the queue was at capacity
# TYPE lms_events_queue_overflow_total counter
lms_events_queue_overflow_total{env="test"} 1
`
				So(testutil.GatherAndCompare(registry, strings.NewReader(expected), "lms_events_queue_overflow_total"), ShouldBeNil)
			})
		})

		Convey("When options carry zero values", func() {
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithConstLabels(nil),
				WithPrometheusRegistry(nil),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "tally")
				So(manager.subsystem, ShouldEqual, "telemetry")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
				So(manager.constLabels, ShouldBeEmpty)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording ingest metrics", func() {
			before := testutil.ToFloat64(globalManager.eventsLogged.WithLabelValues("CONTENT_VIEW"))
			RecordEventLogged("CONTENT_VIEW")
			RecordEventLogged("CONTENT_VIEW")

			droppedBefore := testutil.ToFloat64(globalManager.eventsDropped.WithLabelValues("unauthenticated"))
			RecordEventDropped("unauthenticated", 2)
			RecordEventDropped("unauthenticated", 0)

			Convey("Then counters advance by the recorded amounts", func() {
				So(testutil.ToFloat64(globalManager.eventsLogged.WithLabelValues("CONTENT_VIEW")), ShouldEqual, before+2)
				So(testutil.ToFloat64(globalManager.eventsDropped.WithLabelValues("unauthenticated")), ShouldEqual, droppedBefore+2)
			})
		})

		Convey("When recording queue and flush metrics", func() {
			UpdateQueueSize(7)
			UpdateQueueCapacity(100)
			flushedBefore := testutil.ToFloat64(globalManager.eventsFlushed)
			RecordFlushBatch(10)
			RecordFlush("success")
			RecordFlushDuration(12)
			UpdateRetryDelay(1500 * time.Millisecond)

			Convey("Then gauges reflect the latest values", func() {
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 100)
				So(testutil.ToFloat64(globalManager.eventsFlushed), ShouldEqual, flushedBefore+10)
				So(testutil.ToFloat64(globalManager.retryDelay), ShouldEqual, 1500)
			})
		})

		Convey("When recording session and HTTP metrics", func() {
			So(func() {
				RecordSession("started")
				RecordEngagementLevel("high")
				UpdateActiveSessions(2)
				RecordHTTPRequest("events", "POST", "202")
				RecordHTTPRequestDuration("events", "POST", "202", 3)
				RecordErrorByEndpoint("events", "POST", "client_error")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.4)
				RecordQueueOverflow(1)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.activeSessions), ShouldEqual, 2)
		})

		Convey("When exposing the registry", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		before := testutil.ToFloat64(globalManager.flushes.WithLabelValues("failure"))
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					RecordFlush("failure")
				}
			}()
		}
		wg.Wait()

		Convey("Then no increments are lost", func() {
			So(testutil.ToFloat64(globalManager.flushes.WithLabelValues("failure")), ShouldEqual, before+400)
		})
	})
}
