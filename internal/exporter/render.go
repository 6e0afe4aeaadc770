package exporter

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/voltwise-io/mattergate/internal/model"
)

// metricsContentType is the exposition format served on /metrics.
const metricsContentType = string(expfmt.FmtText)

// RenderError reports a serialization failure while encoding a snapshot.
// The snapshot itself is left untouched; the HTTP caller gets a 5xx.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render snapshot: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// renderSnapshot encodes one snapshot in the Prometheus text exposition
// format. A fresh registry per cycle means a metric absent from this cycle
// is absent from the output, never carried over stale.
func renderSnapshot(w io.Writer, snap model.Snapshot) error {
	reg := prometheus.NewRegistry()

	power := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matter_active_power_watts",
		Help: "Active power consumption in watts.",
	}, []string{"unique_id"})
	voltage := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matter_rms_voltage_volts",
		Help: "RMS voltage in volts.",
	}, []string{"unique_id"})
	current := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matter_rms_current_amps",
		Help: "RMS current in amperes.",
	}, []string{"unique_id"})
	label := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matter_node_label",
		Help: "Node label a.k.a name.",
	}, []string{"unique_id", "node_label"})
	available := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matter_node_available",
		Help: "Whether the node is currently reachable on the mesh.",
	}, []string{"unique_id"})

	reg.MustRegister(power, voltage, current, label, available)

	for _, m := range snap.Metrics {
		uid := m.ExposedID()

		if m.ActivePowerW != nil {
			power.WithLabelValues(uid).Set(*m.ActivePowerW)
		}
		if m.RMSVoltageV != nil {
			voltage.WithLabelValues(uid).Set(*m.RMSVoltageV)
		}
		if m.RMSCurrentA != nil {
			current.WithLabelValues(uid).Set(*m.RMSCurrentA)
		}
		if m.NodeLabel != "" {
			label.WithLabelValues(uid, fmt.Sprintf("%s_%d", m.NodeLabel, m.EndpointID)).Set(1)
		}
		if m.Available {
			available.WithLabelValues(uid).Set(1)
		} else {
			available.WithLabelValues(uid).Set(0)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		return &RenderError{Err: err}
	}

	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return &RenderError{Err: err}
		}
	}

	return nil
}
