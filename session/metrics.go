package session

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds per-session counters on a private registry.
type Metrics struct {
	FramesCaptured atomic.Uint64
	FramesEncoded  atomic.Uint64
	FramesDropped  atomic.Uint64
	Packets        atomic.Uint64
	Bytes          atomic.Uint64
	state          atomic.Int32

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Namespace: "screenrec", Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}
	counter("frames_captured_total", "Frames delivered by the capture source", &m.FramesCaptured)
	counter("frames_encoded_total", "Frames submitted to the encoder", &m.FramesEncoded)
	counter("frames_dropped_total", "Frames dropped after stop was requested", &m.FramesDropped)
	counter("packets_written_total", "Packets handed to the sink", &m.Packets)
	counter("bytes_written_total", "Compressed bytes handed to the sink", &m.Bytes)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "screenrec",
			Name:      "session_state",
			Help:      "Session state (0=idle, 1=capturing, 2=draining, 3=closed)",
		},
		func() float64 { return float64(m.state.Load()) },
	))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) setState(s State) {
	m.state.Store(int32(s))
}

func (m *Metrics) State() State {
	return State(m.state.Load())
}
