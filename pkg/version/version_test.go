package version

import (
	"fmt"
	"runtime"
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	for _, tc := range []struct {
		v    Version
		want string
	}{
		{Version{Major: 1, Minor: 2, Patch: 3, Metadata: "rc1", Build: "abcdef"}, "Version: 1.2.3-rc1\nBuild: abcdef"},
		{Version{Major: 0, Minor: 3, Patch: 0, Build: "abcdef+dirty"}, "Version: 0.3.0\nBuild: abcdef+dirty"},
	} {
		if got := tc.v.String(); got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
	}
}

func TestPstackVersion(t *testing.T) {
	s := PstackVersion.String()
	prefix := fmt.Sprintf("Version: %d.%d.", PstackVersion.Major, PstackVersion.Minor)
	if !strings.HasPrefix(s, prefix) {
		t.Errorf("unexpected version string %q", s)
	}
}

func TestBuildInfo(t *testing.T) {
	info := BuildInfo()
	if !strings.HasPrefix(info, runtime.Version()+"\n") {
		t.Errorf("build info does not start with the Go version: %q", info)
	}
}
