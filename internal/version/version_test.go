package version

import "testing"

func TestInfoIncludesAllFields(t *testing.T) {
	got := Info()
	for _, want := range []string{Version, GitCommit, BuildDate} {
		if !contains(got, want) {
			t.Fatalf("Info() = %q, expected it to contain %q", got, want)
		}
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
