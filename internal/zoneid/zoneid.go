// Package zoneid maps provider zone labels to stable zone IDs.
//
// Zone letters ("a", "us-east-1a") are assigned per account and differ
// between accounts; zone IDs ("use1-az1") name the same physical zone
// everywhere.
package zoneid

import (
	"regexp"
	"strings"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// Resolver maps a zone label to its stable ID.
type Resolver interface {
	Resolve(label string) (models.ZoneID, error)
}

var stableID = regexp.MustCompile(`^[a-z]{2,5}[0-9]+-az[0-9]+$`)

// IsStable reports whether label already has the form of a zone ID.
func IsStable(label string) bool {
	return stableID.MatchString(label)
}

// StaticResolver resolves labels from a fixed table.
type StaticResolver struct {
	byLabel map[string]models.ZoneID
}

var _ Resolver = (*StaticResolver)(nil)

// NewStaticResolver builds a resolver from label -> ID pairs. Labels may be
// bare letters or full zone names. Every ID must have the stable form.
func NewStaticResolver(mapping map[string]string) (*StaticResolver, error) {
	r := &StaticResolver{byLabel: make(map[string]models.ZoneID, len(mapping))}
	for label, id := range mapping {
		label = strings.ToLower(strings.TrimSpace(label))
		id = strings.ToLower(strings.TrimSpace(id))
		if label == "" {
			return nil, azerr.Configf("zone_ids", "empty zone label for %q", id)
		}
		if !IsStable(id) {
			return nil, azerr.Configf("zone_ids", "label %q maps to %q, which is not a zone ID", label, id)
		}
		r.byLabel[label] = models.ZoneID(id)
	}
	return r, nil
}

// Resolve implements Resolver. Stable IDs resolve to themselves. A full
// zone name such as "us-east-1a" falls back to its letter when the name
// itself is not mapped.
func (r *StaticResolver) Resolve(label string) (models.ZoneID, error) {
	l := strings.ToLower(strings.TrimSpace(label))
	if id, ok := r.byLabel[l]; ok {
		return id, nil
	}
	if IsStable(l) {
		return models.ZoneID(l), nil
	}
	if n := len(l); n > 1 {
		if id, ok := r.byLabel[l[n-1:]]; ok {
			return id, nil
		}
	}
	return "", azerr.Configf("zone", "cannot resolve zone label %q", label)
}
