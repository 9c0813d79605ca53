package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()
	Version = "v1.2.3"

	if got := Short(); got != "v1.2.3" {
		t.Errorf("Short() = %q, want v1.2.3", got)
	}
	if got := Info(); !strings.HasPrefix(got, "azwatch v1.2.3 ") {
		t.Errorf("Info() = %q", got)
	}
	m := Map()
	for _, k := range []string{"version", "git_commit", "build_date", "go_version"} {
		if m[k] == "" {
			t.Errorf("Map()[%q] is empty", k)
		}
	}
}
