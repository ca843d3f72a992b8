package version

import "testing"

func withBuild(t *testing.T, version, commit, built string) {
	t.Helper()
	v, c, b := Version, Commit, BuildDate
	t.Cleanup(func() { Version, Commit, BuildDate = v, c, b })
	Version, Commit, BuildDate = version, commit, built
}

func TestInfo(t *testing.T) {
	tests := []struct {
		commit string
		want   string
	}{
		{commit: "unknown", want: "0.4.2"},
		{commit: "", want: "0.4.2"},
		{commit: "abc", want: "0.4.2"},
		{commit: "1234567", want: "0.4.2"},
		{commit: "12345678", want: "0.4.2 (1234567)"},
		{commit: "2dc20c984283bede1f45863b8f3b4dd9b5b554cc", want: "0.4.2 (2dc20c9)"},
	}

	for _, tt := range tests {
		t.Run(tt.commit, func(t *testing.T) {
			withBuild(t, "0.4.2", tt.commit, "unknown")
			if got := Info(); got != tt.want {
				t.Errorf("Info() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFull(t *testing.T) {
	withBuild(t, "1.2.3", "abcdef123456", "2024-01-15")

	want := "faultline version 1.2.3\nCommit: abcdef123456\nBuilt: 2024-01-15"
	if got := Full(); got != want {
		t.Errorf("Full() = %q, want %q", got, want)
	}
}
