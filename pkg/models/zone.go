package models

import "sort"

// ZoneID is the stable, cross-account identifier of an availability zone
// (for example "use1-az1"). Per-account letter names are resolved to a ZoneID
// before they reach the detector.
type ZoneID string

func (z ZoneID) String() string { return string(z) }

// SortZones returns the zones in ascending ID order.
func SortZones(zones []ZoneID) []ZoneID {
	out := make([]ZoneID, len(zones))
	copy(out, zones)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResourceClass categorizes the resources whose metrics feed isolated-impact detection.
type ResourceClass string

const (
	ResourceClassLoadBalancer ResourceClass = "LOAD_BALANCER"
	ResourceClassNATGateway   ResourceClass = "NAT_GATEWAY"
)

// ResourceClasses lists every class in evaluation order.
var ResourceClasses = []ResourceClass{ResourceClassLoadBalancer, ResourceClassNATGateway}

// Short returns the abbreviation used in alarm names.
func (c ResourceClass) Short() string {
	switch c {
	case ResourceClassLoadBalancer:
		return "alb"
	case ResourceClassNATGateway:
		return "natgw"
	default:
		return string(c)
	}
}

// Resource is one monitored resource in one zone. A load balancer spanning
// three zones is represented as three Resources sharing the same ID.
type Resource struct {
	ID    string        `json:"id" yaml:"id"`
	Class ResourceClass `json:"class" yaml:"class"`
	Zone  ZoneID        `json:"zone" yaml:"zone"`
}
