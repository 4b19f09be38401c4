// Package metrics exposes Prometheus instrumentation for all three roles.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "smsalert"

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	dispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "dispatched_total",
			Help:      "Work items handed to a worker.",
		},
	)
	dispatchErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "dispatch_errors_total",
			Help:      "Work items whose sendmsg could not be delivered and were lost.",
		},
	)
	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "completions_total",
			Help:      "Completion reports folded into the statistics, by outcome.",
		},
		[]string{"outcome"},
	)
	sendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "send_latency_seconds",
			Help:      "Latency reported by workers for successful sends.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
	pendingItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "pending_items",
			Help:      "Work items waiting for an idle worker.",
		},
	)
	idleWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "idle_workers",
			Help:      "Workers in the availability queue.",
		},
	)
	registeredWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "registered_workers",
			Help:      "Distinct workers that have registered.",
		},
	)
	droppedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Inbound documents dropped because they could not be decoded, by role.",
		},
		[]string{"role"},
	)
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "deliveries_total",
			Help:      "Simulated deliveries, by outcome.",
		},
		[]string{"outcome"},
	)
	statusPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "observer",
			Name:      "status_polls_total",
			Help:      "Status requests sent to the coordinator.",
		},
	)
)

// Registry holds every collector of this package.
var Registry = prometheus.NewRegistry()

var registerMetrics sync.Once

// Register adds all collectors to Registry. Safe to call more than once.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(
			dispatchedTotal,
			dispatchErrorsTotal,
			completionsTotal,
			sendLatency,
			pendingItems,
			idleWorkers,
			registeredWorkers,
			droppedMessagesTotal,
			deliveriesTotal,
			statusPollsTotal,
		)
	})
}

func outcome(success bool) string {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// RecordDispatch counts one sendmsg, failed or not.
func RecordDispatch(err error) {
	if err != nil {
		dispatchErrorsTotal.Inc()
		return
	}
	dispatchedTotal.Inc()
}

// RecordCompletion counts one folded completion report.
func RecordCompletion(success bool, latency time.Duration) {
	completionsTotal.WithLabelValues(outcome(success)).Inc()
	if success {
		sendLatency.Observe(latency.Seconds())
	}
}

// SetQueues publishes the coordinator's queue depths.
func SetQueues(pending, idle, registered int) {
	pendingItems.Set(float64(pending))
	idleWorkers.Set(float64(idle))
	registeredWorkers.Set(float64(registered))
}

// RecordDropped counts one undecodable document received by role.
func RecordDropped(role string) {
	droppedMessagesTotal.WithLabelValues(role).Inc()
}

// RecordDelivery counts one simulated delivery on a worker.
func RecordDelivery(success bool) {
	deliveriesTotal.WithLabelValues(outcome(success)).Inc()
}

// RecordPoll counts one status request sent by the observer.
func RecordPoll() {
	statusPollsTotal.Inc()
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
