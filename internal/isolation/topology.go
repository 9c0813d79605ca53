package isolation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/zoneid"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// Topology is the monitored estate as written in the topology file:
//
//	zone_ids:
//	  a: use1-az4
//	  b: use1-az6
//	load_balancers:
//	  - id: app-alb
//	    zones: [a, b]
//	nat_gateways:
//	  - id: nat-0a1b
//	    zone: a
//
// Zone labels may be letters, full zone names or zone IDs.
type Topology struct {
	ZoneIDs       map[string]string `yaml:"zone_ids"`
	LoadBalancers []LoadBalancer    `yaml:"load_balancers"`
	NATGateways   []NATGateway      `yaml:"nat_gateways"`
}

// LoadBalancer is a load balancer enabled in one or more zones.
type LoadBalancer struct {
	ID    string   `yaml:"id"`
	Zones []string `yaml:"zones"`
}

// NATGateway is a NAT gateway, which lives in exactly one zone.
type NATGateway struct {
	ID   string `yaml:"id"`
	Zone string `yaml:"zone"`
}

// Layout is a resolved Topology: every zone the detector reports on and the
// per-zone resources it monitors.
type Layout struct {
	Zones     []models.ZoneID
	Resources []models.Resource
}

// LoadTopology reads and parses a topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology %s: %w", path, err)
	}
	return ParseTopology(data)
}

// ParseTopology parses topology YAML. Unknown keys are rejected.
func ParseTopology(data []byte) (*Topology, error) {
	var t Topology
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return nil, azerr.Configf("topology", "parse: %v", err)
	}
	return &t, nil
}

// Resolve maps every zone label to a stable ID and expands load balancers
// into one Resource per enabled zone.
func (t *Topology) Resolve() (Layout, error) {
	resolver, err := zoneid.NewStaticResolver(t.ZoneIDs)
	if err != nil {
		return Layout{}, err
	}
	return t.ResolveWith(resolver)
}

// ResolveWith is Resolve with a caller-supplied resolver.
func (t *Topology) ResolveWith(r zoneid.Resolver) (Layout, error) {
	var layout Layout
	zones := make(map[models.ZoneID]struct{})
	ids := make(map[string]models.ResourceClass)

	claim := func(id string, class models.ResourceClass) error {
		if id == "" {
			return azerr.Configf("topology", "%s without id", class)
		}
		if prev, ok := ids[id]; ok {
			return azerr.Configf("topology", "duplicate resource id %q (%s and %s)", id, prev, class)
		}
		ids[id] = class
		return nil
	}
	add := func(id string, class models.ResourceClass, label string) error {
		z, err := r.Resolve(label)
		if err != nil {
			return fmt.Errorf("%s %s: %w", class, id, err)
		}
		for _, res := range layout.Resources {
			if res.ID == id && res.Zone == z {
				return azerr.Configf("topology", "%s %s lists zone %s twice", class, id, z)
			}
		}
		zones[z] = struct{}{}
		layout.Resources = append(layout.Resources, models.Resource{ID: id, Class: class, Zone: z})
		return nil
	}

	for _, lb := range t.LoadBalancers {
		if err := claim(lb.ID, models.ResourceClassLoadBalancer); err != nil {
			return Layout{}, err
		}
		if len(lb.Zones) == 0 {
			return Layout{}, azerr.Configf("topology", "load balancer %s has no zones", lb.ID)
		}
		for _, label := range lb.Zones {
			if err := add(lb.ID, models.ResourceClassLoadBalancer, label); err != nil {
				return Layout{}, err
			}
		}
	}
	for _, ng := range t.NATGateways {
		if err := claim(ng.ID, models.ResourceClassNATGateway); err != nil {
			return Layout{}, err
		}
		if err := add(ng.ID, models.ResourceClassNATGateway, ng.Zone); err != nil {
			return Layout{}, err
		}
	}

	// Mapped zones without resources are still reported, as unmonitored.
	for label := range t.ZoneIDs {
		z, err := r.Resolve(label)
		if err != nil {
			return Layout{}, err
		}
		zones[z] = struct{}{}
	}

	if len(layout.Resources) == 0 {
		return Layout{}, azerr.Configf("topology", "no load balancers or NAT gateways defined")
	}
	for z := range zones {
		layout.Zones = append(layout.Zones, z)
	}
	layout.Zones = models.SortZones(layout.Zones)
	return layout, nil
}
