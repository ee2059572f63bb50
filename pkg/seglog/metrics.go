package seglog

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "seglog"

const (
	resultOK    = "ok"
	resultError = "error"
)

// Metrics holds the Prometheus collectors for agents and the index.
// A nil *Metrics records nothing.
type Metrics struct {
	recordsAppended prometheus.Counter
	flushes         *prometheus.CounterVec
	flushBytes      prometheus.Counter
	flushDuration   prometheus.Histogram
	reads           *prometheus.CounterVec
	readRecords     prometheus.Counter
	readDuration    prometheus.Histogram
	indexWrites     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered. Collectors that are already registered are
// reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		recordsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_appended_total",
			Help:      "Records buffered by agents.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "flushes_total",
			Help:      "Non-empty flushes by result.",
		}, []string{"result"}),
		flushBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "flush_bytes_total",
			Help:      "Segment bytes committed by flushes.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "flush_duration_seconds",
			Help:      "Flush latency including segment write and index commit.",
			Buckets:   prometheus.DefBuckets,
		}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reads_total",
			Help:      "Agent reads by result.",
		}, []string{"result"}),
		readRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "read_records_total",
			Help:      "Records returned by reads.",
		}),
		readDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "read_duration_seconds",
			Help:      "Read latency including segment fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		indexWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "index_writes_total",
			Help:      "Index submissions by result.",
		}, []string{"result"}),
	}

	if reg == nil {
		return m, nil
	}

	var errs []error

	register := func(c prometheus.Collector) prometheus.Collector {
		err := reg.Register(c)
		if err == nil {
			return c
		}

		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector
		}

		errs = append(errs, err)

		return c
	}

	m.recordsAppended = register(m.recordsAppended).(prometheus.Counter)
	m.flushes = register(m.flushes).(*prometheus.CounterVec)
	m.flushBytes = register(m.flushBytes).(prometheus.Counter)
	m.flushDuration = register(m.flushDuration).(prometheus.Histogram)
	m.reads = register(m.reads).(*prometheus.CounterVec)
	m.readRecords = register(m.readRecords).(prometheus.Counter)
	m.readDuration = register(m.readDuration).(prometheus.Histogram)
	m.indexWrites = register(m.indexWrites).(*prometheus.CounterVec)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordAppended() {
	if m == nil {
		return
	}

	m.recordsAppended.Inc()
}

func (m *Metrics) flushed(bytes int64, start time.Time, err error) {
	if m == nil {
		return
	}

	m.flushes.WithLabelValues(result(err)).Inc()
	m.flushDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		m.flushBytes.Add(float64(bytes))
	}
}

func (m *Metrics) read(records int, start time.Time, err error) {
	if m == nil {
		return
	}

	m.reads.WithLabelValues(result(err)).Inc()
	m.readDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		m.readRecords.Add(float64(records))
	}
}

func (m *Metrics) indexWrite(err error) {
	if m == nil {
		return
	}

	m.indexWrites.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return resultError
	}

	return resultOK
}
