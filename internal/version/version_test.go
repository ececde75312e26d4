package version

import "testing"

func TestString(t *testing.T) {
	oldVersion, oldCommit, oldBuild := Version, Commit, BuildTime
	t.Cleanup(func() { Version, Commit, BuildTime = oldVersion, oldCommit, oldBuild })

	Version, Commit, BuildTime = "1.4.0", "a1b2c3d", "2024-05-01T08:00:00Z"

	if got, want := String(), "1.4.0 (a1b2c3d) built 2024-05-01T08:00:00Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := Get(); got != (Info{Version: "1.4.0", Commit: "a1b2c3d", BuildTime: "2024-05-01T08:00:00Z"}) {
		t.Errorf("Get() = %+v", got)
	}
}
