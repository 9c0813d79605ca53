package zoneid

import (
	"errors"
	"testing"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

func TestStaticResolver_Resolve(t *testing.T) {
	r, err := NewStaticResolver(map[string]string{
		"a":          "use1-az4",
		"B":          "use1-az6",
		"us-east-1c": "use1-az1",
	})
	if err != nil {
		t.Fatalf("NewStaticResolver: %v", err)
	}
	tests := []struct {
		label string
		want  models.ZoneID
	}{
		{"a", "use1-az4"},
		{"b", "use1-az6"},
		{"us-east-1a", "use1-az4"},
		{"US-EAST-1C", "use1-az1"},
		{"use1-az2", "use1-az2"},
		{"euw1-az3", "euw1-az3"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := r.Resolve(tt.label)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.label, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.label, got, tt.want)
			}
		})
	}

	if _, err := r.Resolve("us-east-1d"); !errors.Is(err, azerr.ErrConfiguration) {
		t.Errorf("unknown label error = %v, want configuration error", err)
	}
}

func TestNewStaticResolver_RejectsNonIDs(t *testing.T) {
	if _, err := NewStaticResolver(map[string]string{"a": "us-east-1a"}); !errors.Is(err, azerr.ErrConfiguration) {
		t.Errorf("error = %v, want configuration error", err)
	}
	if _, err := NewStaticResolver(map[string]string{" ": "use1-az1"}); !errors.Is(err, azerr.ErrConfiguration) {
		t.Errorf("empty label error = %v, want configuration error", err)
	}
}
