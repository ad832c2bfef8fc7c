// Package metrics exposes prometheus collectors for the device queue and the
// address book.
package metrics

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger_provider"

// Service implements device.Observer and provider.BookObserver.
type Service struct {
	registry *prometheus.Registry

	jobsQueued      prometheus.Counter
	jobsPending     prometheus.Gauge
	jobsTotal       *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	deviceBusy      prometheus.Gauge
	addressBookSize prometheus.Gauge
}

func New() (*Service, error) {
	s := &Service{
		registry: prometheus.NewRegistry(),
		jobsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device_queue",
			Name:      "jobs_queued_total",
			Help:      "Number of jobs submitted to the device queue.",
		}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device_queue",
			Name:      "jobs_pending",
			Help:      "Number of jobs waiting for the device.",
		}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device_queue",
			Name:      "jobs_finished_total",
			Help:      "Number of finished device jobs by result.",
		}, []string{"result"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "device_queue",
			Name:      "job_duration_seconds",
			Help:      "Time a job held the device session.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		deviceBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_busy",
			Help:      "1 while a device session is open.",
		}),
		addressBookSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "address_book_size",
			Help:      "Number of addresses in the published address book.",
		}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.jobsQueued,
		s.jobsPending,
		s.jobsTotal,
		s.jobDuration,
		s.deviceBusy,
		s.addressBookSize,
	} {
		if err := s.registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register metrics collector")
		}
	}

	return s, nil
}

func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the prometheus exposition format.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

func (s *Service) JobQueued() {
	s.jobsQueued.Inc()
	s.jobsPending.Inc()
}

func (s *Service) JobStarted() {
	s.jobsPending.Dec()
	s.deviceBusy.Set(1)
}

func (s *Service) JobFinished(duration time.Duration, err error) {
	s.deviceBusy.Set(0)
	s.jobDuration.Observe(duration.Seconds())

	result := "success"
	if err != nil {
		result = "failure"
	}
	s.jobsTotal.WithLabelValues(result).Inc()
}

func (s *Service) AddressBookPublished(count int) {
	s.addressBookSize.Set(float64(count))
}
