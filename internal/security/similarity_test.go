package security

import "testing"

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "John Smith", "John Smith", 1.0, 1.0},
		{"case and whitespace ignored", "  john smith ", "John Smith", 1.0, 1.0},
		{"one char off", "John Smith", "John Smyth", 0.85, 0.95},
		{"unrelated", "John Smith", "Wei Zhang", 0.0, 0.35},
		{"both empty", "", "", 1.0, 1.0},
		{"one empty", "John", "", 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NameSimilarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("NameSimilarity(%q, %q) = %v, want in [%v, %v]",
					tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

func TestNameSimilaritySymmetric(t *testing.T) {
	pairs := [][2]string{
		{"Alice Johnson", "Alicia Johnson"},
		{"Bob", "Bobby"},
		{"", "x"},
	}
	for _, p := range pairs {
		if ab, ba := NameSimilarity(p[0], p[1]), NameSimilarity(p[1], p[0]); ab != ba {
			t.Errorf("NameSimilarity not symmetric for %q/%q: %v vs %v", p[0], p[1], ab, ba)
		}
	}
}

func TestSequentialEmails(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"numbered pair", "user1@example.com", "user2@example.com", true},
		{"multi-digit runs", "trader001@mail.com", "trader042@mail.com", true},
		{"digits in middle", "a1b@x.com", "a2b@x.com", true},
		{"different domains", "user1@example.com", "user2@other.com", false},
		{"different stems", "alice@example.com", "bob@example.com", false},
		{"no digits at all", "alice@x.com", "alicia@x.com", false},
		{"same address", "user1@example.com", "user1@example.com", false},
		{"malformed address", "not-an-email", "user2@example.com", false},
		{"case insensitive", "User1@Example.com", "user2@example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SequentialEmails(tt.a, tt.b); got != tt.want {
				t.Errorf("SequentialEmails(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
