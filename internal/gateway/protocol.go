package gateway

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Cluster and attribute ids used by the exporter, as assigned by the
// device-mesh specification.
const (
	clusterBasicInformation  = 40
	clusterElectricalPowerMs = 144

	attrNodeLabel    = 5
	attrSerialNumber = 15
	attrUniqueID     = 18

	attrActivePower = 8
	attrRMSVoltage  = 11
	attrRMSCurrent  = 12
)

// commandMessage is one client request on the gateway's WebSocket API.
type commandMessage struct {
	MessageID string         `json:"message_id"`
	Command   string         `json:"command"`
	Args      map[string]any `json:"args,omitempty"`
}

// serverMessage is any frame pushed by the gateway: a command result, a
// command error, or an unsolicited event.
type serverMessage struct {
	MessageID string          `json:"message_id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	ErrorCode *int            `json:"error_code,omitempty"`
	Details   string          `json:"details,omitempty"`
	Event     string          `json:"event,omitempty"`
}

// serverInfo is the greeting frame the gateway sends on session setup.
type serverInfo struct {
	FabricID            uint64 `json:"fabric_id"`
	CompressedFabricID  uint64 `json:"compressed_fabric_id"`
	SchemaVersion       int    `json:"schema_version"`
	MinSupportedVersion int    `json:"min_supported_schema_version"`
	SDKVersion          string `json:"sdk_version"`
}

// nodeState is the gateway's view of one mesh node. Attributes is a flat map
// keyed "endpoint/cluster/attribute".
type nodeState struct {
	NodeID     uint64         `json:"node_id"`
	Available  bool           `json:"available"`
	IsBridge   bool           `json:"is_bridge"`
	Attributes map[string]any `json:"attributes"`
}

func attributePath(endpoint uint16, cluster, attribute uint32) string {
	return strconv.FormatUint(uint64(endpoint), 10) + "/" +
		strconv.FormatUint(uint64(cluster), 10) + "/" +
		strconv.FormatUint(uint64(attribute), 10)
}

// endpoints returns the node's endpoint ids in ascending order.
func (n *nodeState) endpoints() []uint16 {
	seen := make(map[uint16]struct{})
	for path := range n.Attributes {
		ep, _, _, ok := splitPath(path)
		if !ok {
			continue
		}
		seen[ep] = struct{}{}
	}
	out := make([]uint16, 0, len(seen))
	for ep := range seen {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// hasCluster reports whether the endpoint exposes any attribute of the
// given cluster.
func (n *nodeState) hasCluster(endpoint uint16, cluster uint32) bool {
	prefix := strconv.FormatUint(uint64(endpoint), 10) + "/" +
		strconv.FormatUint(uint64(cluster), 10) + "/"
	for path := range n.Attributes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// hasClusterAnywhere reports whether any endpoint of the node exposes the
// given cluster.
func (n *nodeState) hasClusterAnywhere(cluster uint32) bool {
	for path := range n.Attributes {
		_, c, _, ok := splitPath(path)
		if ok && c == cluster {
			return true
		}
	}
	return false
}

// firstEndpointWith returns the lowest endpoint id exposing the cluster.
func (n *nodeState) firstEndpointWith(cluster uint32) (uint16, bool) {
	for _, ep := range n.endpoints() {
		if n.hasCluster(ep, cluster) {
			return ep, true
		}
	}
	return 0, false
}

// stringAttribute returns the attribute as a non-empty string.
func (n *nodeState) stringAttribute(endpoint uint16, cluster, attribute uint32) (string, bool) {
	v, ok := n.Attributes[attributePath(endpoint, cluster, attribute)]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// numberAttribute returns the attribute as a float64, or nil when the
// attribute is absent or null. Absent stays absent; it is never read as zero.
func (n *nodeState) numberAttribute(endpoint uint16, cluster, attribute uint32) *float64 {
	v, ok := n.Attributes[attributePath(endpoint, cluster, attribute)]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case float64:
		return &val
	case int:
		f := float64(val)
		return &f
	case int64:
		f := float64(val)
		return &f
	default:
		return nil
	}
}

func splitPath(path string) (endpoint uint16, cluster uint32, attribute uint32, ok bool) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	ep, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return 0, 0, 0, false
	}
	cl, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	at, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint16(ep), uint32(cl), uint32(at), true
}
