package model

import (
	"fmt"
	"time"
)

// Identity holds the Basic Information attributes of a node. An empty
// string means the device did not report the attribute.
type Identity struct {
	UniqueID     string
	SerialNumber string
	NodeLabel    string
}

// DeviceEndpointMetric is one (node, endpoint) reading produced by a single
// fetch cycle. It is constructed fresh every cycle and never mutated after
// construction.
//
// The three electrical readings are pointers: nil means the device did not
// report the attribute, which is distinct from a measured zero. When
// Available is false all three readings are nil.
type DeviceEndpointMetric struct {
	NodeID       uint64
	EndpointID   uint16
	UniqueID     string
	SerialNumber string
	NodeLabel    string
	ActivePowerW *float64
	RMSVoltageV  *float64
	RMSCurrentA  *float64
	Available    bool
}

// ExposedID returns the metric's unique id, falling back to a synthetic
// node/endpoint id when the device reports none.
func (m DeviceEndpointMetric) ExposedID() string {
	if m.UniqueID != "" {
		return m.UniqueID
	}
	return fmt.Sprintf("node_%d_ep_%d", m.NodeID, m.EndpointID)
}

type SnapshotState int

const (
	SnapshotUnavailable SnapshotState = iota
	SnapshotValid
)

// Snapshot is the complete result of one fetch cycle. It is replaced
// wholesale, never patched, so every metric in a Valid snapshot was read
// within the same cycle.
type Snapshot struct {
	State   SnapshotState
	Metrics []DeviceEndpointMetric
	TakenAt time.Time
}

// MilliToBase converts a raw device reading in milli-units (mW, mV, mA) to
// base units. A nil reading stays nil; "unset" never becomes zero.
func MilliToBase(v *float64) *float64 {
	if v == nil {
		return nil
	}
	base := *v / 1000.0
	return &base
}
