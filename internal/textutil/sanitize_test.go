package textutil

import "testing"

func TestSanitizeToken(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"M042", "m042"},
		{"M042 #3", "m042_3"},
		{"rig-7", "rig-7"},
		{"  Behavior Box B  ", "behavior_box_b"},
		{"___", "unknown"},
		{"", "unknown"},
	}
	for _, tc := range cases {
		if got := SanitizeToken(tc.in); got != tc.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
