package manager

import (
	"github.com/prometheus/client_golang/prometheus"
)

// collector implements prometheus.Collector, reading each registered
// channel's statistics block live on every scrape — no counters are
// cached between scrapes.
type collector struct {
	m *Manager

	channelsOpen        *prometheus.Desc
	allocTotal           *prometheus.Desc
	freeTotal            *prometheus.Desc
	leakedTotal          *prometheus.Desc
	ctrlSQEnqueuedTotal  *prometheus.Desc
	ctrlCQEnqueuedTotal  *prometheus.Desc
	e2aEnqueuedTotal     *prometheus.Desc
	a2eEnqueuedTotal     *prometheus.Desc
	backPressureTotal    *prometheus.Desc
	freeRingCount        *prometheus.Desc
}

// Collector returns a prometheus.Collector that scrapes every channel this
// Manager currently holds open. Registering it is the caller's
// responsibility (cmd/dpchand does this at startup).
func (m *Manager) Collector() prometheus.Collector {
	return &collector{
		m: m,
		channelsOpen: prometheus.NewDesc(
			"dpchan_channels_open",
			"Number of channels currently registered with this manager.",
			nil, nil,
		),
		allocTotal: prometheus.NewDesc(
			"dpchan_buffer_alloc_total",
			"Total buffers allocated from the channel's pool.",
			[]string{"channel"}, nil,
		),
		freeTotal: prometheus.NewDesc(
			"dpchan_buffer_free_total",
			"Total buffers returned to the channel's pool.",
			[]string{"channel"}, nil,
		),
		leakedTotal: prometheus.NewDesc(
			"dpchan_buffer_leaked_total",
			"Total buffers abandoned after exhausting the free-path retry budget.",
			[]string{"channel"}, nil,
		),
		ctrlSQEnqueuedTotal: prometheus.NewDesc(
			"dpchan_control_sq_enqueued_total",
			"Total control requests enqueued on the submission ring.",
			[]string{"channel"}, nil,
		),
		ctrlCQEnqueuedTotal: prometheus.NewDesc(
			"dpchan_control_cq_enqueued_total",
			"Total control completions enqueued on the completion ring.",
			[]string{"channel"}, nil,
		),
		e2aEnqueuedTotal: prometheus.NewDesc(
			"dpchan_engine_to_app_enqueued_total",
			"Total buffer indices enqueued engine to app.",
			[]string{"channel"}, nil,
		),
		a2eEnqueuedTotal: prometheus.NewDesc(
			"dpchan_app_to_engine_enqueued_total",
			"Total buffer indices enqueued app to engine.",
			[]string{"channel"}, nil,
		),
		backPressureTotal: prometheus.NewDesc(
			"dpchan_backpressure_events_total",
			"Total enqueue attempts that observed a full ring.",
			[]string{"channel"}, nil,
		),
		freeRingCount: prometheus.NewDesc(
			"dpchan_free_buffers",
			"Current number of unallocated buffers in the channel's pool.",
			[]string{"channel"}, nil,
		),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.channelsOpen
	ch <- c.allocTotal
	ch <- c.freeTotal
	ch <- c.leakedTotal
	ch <- c.ctrlSQEnqueuedTotal
	ch <- c.ctrlCQEnqueuedTotal
	ch <- c.e2aEnqueuedTotal
	ch <- c.a2eEnqueuedTotal
	ch <- c.backPressureTotal
	ch <- c.freeRingCount
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	channels := c.m.snapshot()

	ch <- prometheus.MustNewConstMetric(c.channelsOpen, prometheus.GaugeValue, float64(len(channels)))

	for name, ct := range channels {
		s := ct.Stats()
		ch <- prometheus.MustNewConstMetric(c.allocTotal, prometheus.CounterValue, float64(s.AllocCount), name)
		ch <- prometheus.MustNewConstMetric(c.freeTotal, prometheus.CounterValue, float64(s.FreeCount), name)
		ch <- prometheus.MustNewConstMetric(c.leakedTotal, prometheus.CounterValue, float64(s.LeakedCount), name)
		ch <- prometheus.MustNewConstMetric(c.ctrlSQEnqueuedTotal, prometheus.CounterValue, float64(s.CtrlSQEnqueued), name)
		ch <- prometheus.MustNewConstMetric(c.ctrlCQEnqueuedTotal, prometheus.CounterValue, float64(s.CtrlCQEnqueued), name)
		ch <- prometheus.MustNewConstMetric(c.e2aEnqueuedTotal, prometheus.CounterValue, float64(s.E2AEnqueued), name)
		ch <- prometheus.MustNewConstMetric(c.a2eEnqueuedTotal, prometheus.CounterValue, float64(s.A2EEnqueued), name)
		ch <- prometheus.MustNewConstMetric(c.backPressureTotal, prometheus.CounterValue, float64(s.BackPressureEvents), name)
		ch <- prometheus.MustNewConstMetric(c.freeRingCount, prometheus.GaugeValue, float64(s.FreeRingCount), name)
	}
}
