package topology

import (
	"fmt"
	"sort"

	"github.com/iammrherb/labdabbler/pkg/types"
)

// kindDefaults maps containerlab node kinds to the vendor image used when
// generating a starter topology for that kind.
var kindDefaults = map[string]string{
	"nokia_srlinux":     "ghcr.io/nokia/srlinux:latest",
	"arista_ceos":       "ceos:latest",
	"cisco_xrd":         "xrd-control-plane:latest",
	"juniper_crpd":      "crpd:latest",
	"sonic-vs":          "docker-sonic-vs:latest",
	"cumulus_cvx":       "networkop/cx:latest",
	"linux":             "alpine:latest",
	"frr":               "frrouting/frr:latest",
	"openbgpd":          "quay.io/openbgpd/openbgpd:latest",
	"keysight_ixia-c":   "ghcr.io/open-traffic-generator/ixia-c-one:latest",
	"mikrotik_ros":      "vrnetlab/vr-routeros:latest",
	"vyosnetworks_vyos": "vyos:latest",
}

// SupportedKinds lists the node kinds templates can be generated for.
func SupportedKinds() []string {
	kinds := make([]string, 0, len(kindDefaults))
	for k := range kindDefaults {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// GenerateTemplate builds a minimal two-node topology of the given kind
// with a single point-to-point link, ready to deploy as a starting point.
func GenerateTemplate(name, kind string, nodeCount int) (*types.TopologyDefinition, error) {
	image, ok := kindDefaults[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported node kind %q", kind)
	}
	if name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	if nodeCount < 1 {
		nodeCount = 2
	}

	nodes := make(map[string]types.TopologyNode, nodeCount)
	for i := 1; i <= nodeCount; i++ {
		nodes[fmt.Sprintf("node%d", i)] = types.TopologyNode{
			Kind:  kind,
			Image: image,
		}
	}

	var links []types.TopologyLink
	for i := 1; i < nodeCount; i++ {
		links = append(links, types.TopologyLink{
			Endpoints: []string{
				fmt.Sprintf("node%d:eth1", i),
				fmt.Sprintf("node%d:eth1", i+1),
			},
		})
	}

	return &types.TopologyDefinition{
		Name: name,
		Topology: types.TopologyBody{
			Nodes: nodes,
			Links: links,
		},
	}, nil
}
