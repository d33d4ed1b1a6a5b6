package version

import "testing"

func TestString(t *testing.T) {
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	defer func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	}()

	Version = "1.2.3"
	Commit = "abc1234"
	BuildTime = "2025-01-15T10:00:00Z"

	if got, want := String(), "1.2.3 (abc1234) built 2025-01-15T10:00:00Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	info := Get()
	if info.Version != "1.2.3" || info.Commit != "abc1234" || info.BuildTime != "2025-01-15T10:00:00Z" {
		t.Errorf("Get() = %+v", info)
	}
}
