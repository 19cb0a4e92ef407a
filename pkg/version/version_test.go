package version

import "testing"

func TestEligible(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		current   string
		override  bool
		want      bool
	}{
		{"regular upgrade", "2.0.0", "1.0.0", false, true},
		{"regular equal version", "1.0.0", "1.0.0", false, false},
		{"regular downgrade", "0.9.0", "1.0.0", false, false},
		{"regular patch upgrade", "1.0.1", "1.0.0", false, true},
		{"regular unknown current", "2.0.0", Unknown, false, false},
		{"regular unparseable current", "2.0.0", "not-a-version", false, false},
		{"regular unparseable candidate", "not-a-version", "1.0.0", false, false},
		{"override downgrade", "1.0.0", "2.0.0", true, true},
		{"override equal version", "1.0.0", "1.0.0", true, true},
		{"override unknown current", "1.0.0", Unknown, true, true},
		{"override unparseable candidate", "not-a-version", "1.0.0", true, false},
		{"regular prerelease over release", "2.0.0-rc1", "2.0.0", false, false},
		{"regular release over prerelease", "2.0.0", "2.0.0-rc1", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eligible(tt.candidate, tt.current, tt.override); got != tt.want {
				t.Errorf("Eligible(%q, %q, %v) = %v, want %v",
					tt.candidate, tt.current, tt.override, got, tt.want)
			}
		})
	}
}

func TestLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1.0.0", "2.0.0", true},
		{"2.0.0", "1.0.0", false},
		{"1.0.0", "1.0.0", false},
		{"2.0.0", "2.0.1", true},
		{"bogus", "1.0.0", true},
		{"1.0.0", "bogus", false},
	}

	for _, tt := range tests {
		if got := Less(tt.a, tt.b); got != tt.want {
			t.Errorf("Less(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
