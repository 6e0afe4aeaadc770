package gateway

import (
	"context"

	"github.com/voltwise-io/mattergate/internal/model"
)

// FetchIdentity reads the Basic Information attributes of every node that
// exposes them. Absent attributes are left empty, not defaulted. Basic
// Information is read from the node's first identity-capable endpoint;
// further endpoints carrying the cluster are ignored.
func (c *Client) FetchIdentity(ctx context.Context) (map[uint64]model.Identity, error) {
	if !c.IsConnected() {
		return nil, &FetchError{Op: "identity", Err: ErrNotConnected}
	}

	nodes, err := c.getNodes(ctx)
	if err != nil {
		return nil, &FetchError{Op: "identity", Err: err}
	}

	return identityFromNodes(nodes), nil
}

// FetchElectrical produces one metric per electrical-capable endpoint of
// every node exposing both the identity and electrical-measurement
// capabilities. An unavailable node yields exactly one metric with no
// readings, attributed to its first identity-capable endpoint. An empty
// result is not an error.
func (c *Client) FetchElectrical(ctx context.Context, identities map[uint64]model.Identity) ([]model.DeviceEndpointMetric, error) {
	if !c.IsConnected() {
		return nil, &FetchError{Op: "electrical", Err: ErrNotConnected}
	}

	nodes, err := c.getNodes(ctx)
	if err != nil {
		return nil, &FetchError{Op: "electrical", Err: err}
	}

	return metricsFromNodes(nodes, identities), nil
}

func identityFromNodes(nodes []nodeState) map[uint64]model.Identity {
	out := make(map[uint64]model.Identity, len(nodes))

	for i := range nodes {
		n := &nodes[i]
		ep, ok := n.firstEndpointWith(clusterBasicInformation)
		if !ok {
			continue
		}

		var id model.Identity
		if v, ok := n.stringAttribute(ep, clusterBasicInformation, attrUniqueID); ok {
			id.UniqueID = v
		}
		if v, ok := n.stringAttribute(ep, clusterBasicInformation, attrSerialNumber); ok {
			id.SerialNumber = v
		}
		if v, ok := n.stringAttribute(ep, clusterBasicInformation, attrNodeLabel); ok {
			id.NodeLabel = v
		}

		if id != (model.Identity{}) {
			out[n.NodeID] = id
		}
	}

	return out
}

func metricsFromNodes(nodes []nodeState, identities map[uint64]model.Identity) []model.DeviceEndpointMetric {
	var metrics []model.DeviceEndpointMetric

	for i := range nodes {
		n := &nodes[i]
		if !n.hasClusterAnywhere(clusterElectricalPowerMs) {
			continue
		}
		identityEP, ok := n.firstEndpointWith(clusterBasicInformation)
		if !ok {
			continue
		}

		id := identities[n.NodeID]

		if !n.Available {
			// Powered-off nodes get a single availability marker and no
			// per-endpoint reads.
			metrics = append(metrics, model.DeviceEndpointMetric{
				NodeID:       n.NodeID,
				EndpointID:   identityEP,
				UniqueID:     id.UniqueID,
				SerialNumber: id.SerialNumber,
				NodeLabel:    id.NodeLabel,
				Available:    false,
			})
			continue
		}

		for _, ep := range n.endpoints() {
			if !n.hasCluster(ep, clusterElectricalPowerMs) {
				continue
			}
			metrics = append(metrics, model.DeviceEndpointMetric{
				NodeID:       n.NodeID,
				EndpointID:   ep,
				UniqueID:     id.UniqueID,
				SerialNumber: id.SerialNumber,
				NodeLabel:    id.NodeLabel,
				ActivePowerW: model.MilliToBase(n.numberAttribute(ep, clusterElectricalPowerMs, attrActivePower)),
				RMSVoltageV:  model.MilliToBase(n.numberAttribute(ep, clusterElectricalPowerMs, attrRMSVoltage)),
				RMSCurrentA:  model.MilliToBase(n.numberAttribute(ep, clusterElectricalPowerMs, attrRMSCurrent)),
				Available:    true,
			})
		}
	}

	return metrics
}
