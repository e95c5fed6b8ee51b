package version

import (
	"runtime/debug"
	"testing"
	"time"
)

func stamp(t *testing.T, version, commit, branch, built string) {
	t.Helper()
	old := [4]string{Version, Commit, Branch, BuildTime}
	Version, Commit, Branch, BuildTime = version, commit, branch, built
	t.Cleanup(func() { Version, Commit, Branch, BuildTime = old[0], old[1], old[2], old[3] })
}

func TestResolve(t *testing.T) {
	vcs := &debug.BuildInfo{
		GoVersion: "go1.26.0",
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.modified", Value: "true"},
			{Key: "vcs.time", Value: "2026-03-01T08:00:00Z"},
		},
	}
	tests := []struct {
		name       string
		stamped    [4]string
		bi         *debug.BuildInfo
		wantShort  string
		wantString string
		release    bool
	}{
		{
			name:       "unstamped without build info",
			stamped:    [4]string{"dev", "", "", ""},
			wantShort:  "dev",
			wantString: "dev",
		},
		{
			name:       "vcs settings fill the gaps",
			stamped:    [4]string{"dev", "", "", ""},
			bi:         vcs,
			wantShort:  "dev-0123456-dirty",
			wantString: "dev-0123456-dirty built 2026-03-01T08:00:00Z",
		},
		{
			name:       "ldflags win over vcs",
			stamped:    [4]string{"1.4.0", "abc1234", "main", "2026-04-02T10:30:00Z"},
			bi:         &debug.BuildInfo{GoVersion: "go1.26.0", Settings: vcs.Settings[:1]},
			wantShort:  "1.4.0-abc1234",
			wantString: "1.4.0-abc1234 built 2026-04-02T10:30:00Z",
			release:    true,
		},
		{
			name:       "feature branch is shown",
			stamped:    [4]string{"1.5.0-rc1", "def5678", "feature/flip", ""},
			wantShort:  "1.5.0-rc1-def5678",
			wantString: "1.5.0-rc1-def5678 (feature/flip)",
			release:    true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stamp(t, tc.stamped[0], tc.stamped[1], tc.stamped[2], tc.stamped[3])
			info := resolve(tc.bi)
			if got := info.Short(); got != tc.wantShort {
				t.Errorf("Short() = %q, want %q", got, tc.wantShort)
			}
			if got := info.String(); got != tc.wantString {
				t.Errorf("String() = %q, want %q", got, tc.wantString)
			}
			if info.Release() != tc.release {
				t.Errorf("Release() = %v, want %v", info.Release(), tc.release)
			}
		})
	}
}

func TestResolveKeepsGoVersion(t *testing.T) {
	stamp(t, "dev", "", "", "not-a-time")
	info := resolve(&debug.BuildInfo{GoVersion: "go1.26.0"})
	if info.GoVersion != "go1.26.0" {
		t.Errorf("GoVersion = %q", info.GoVersion)
	}
	if !info.BuildTime.Equal(time.Time{}) {
		t.Errorf("unparseable build time should stay zero, got %v", info.BuildTime)
	}
}

func TestGet(t *testing.T) {
	if Get().Version == "" {
		t.Error("Get() must always report a version")
	}
}
