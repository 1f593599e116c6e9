package scores

import "testing"

func TestNormalizeMatchup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Lions at Packers", "lionspackers"},
		{"Lions vs. Packers", "lionspackers"},
		{"Lions vs Packers", "lionspackers"},
		{"St. Louis Blues at Dallas Stars", "stlouisbluesdallasstars"},
	}

	for _, tt := range tests {
		if got := normalizeMatchup(tt.in); got != tt.want {
			t.Errorf("normalizeMatchup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchupsMatch(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{
			"short names covered by full names, order independent",
			"lions at packers",
			"green bay packers at detroit lions",
			true,
		},
		{
			"different matchup",
			"lions at packers",
			"bears at packers",
			false,
		},
		{
			"identical",
			"Detroit Lions at Green Bay Packers",
			"Detroit Lions at Green Bay Packers",
			true,
		},
		{
			"vs variant",
			"Boston Celtics vs. Miami Heat",
			"Miami Heat at Boston Celtics",
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchupsMatch(tt.a, tt.b, 0.80); got != tt.want {
				t.Errorf("MatchupsMatch(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestOverlapRatio_EmptyString(t *testing.T) {
	if got := overlapRatio("", "anything"); got != 0 {
		t.Errorf("expected 0 for empty input, got %v", got)
	}
}
