package importer

import "testing"

func TestStripDiacritics(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Beyoncé", "Beyonce"},
		{"Björk", "Bjork"},
		{"Sigur Rós", "Sigur Ros"},
		{"Mötley Crüe", "Motley Crue"},
		{"plain ascii", "plain ascii"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := stripDiacritics(tt.in); got != tt.want {
			t.Errorf("stripDiacritics(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripParenthetical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Song (Live)", "Song"},
		{"Song [Remastered 2011]", "Song"},
		{"Song (Live) [Bonus Track]", "Song"},
		{"Song (feat. Someone (uncredited))", "Song"},
		{"(What's the Story) Morning Glory", "(What's the Story) Morning Glory"},
		{"Song", "Song"},
		{"Song (unterminated", "Song (unterminated"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := stripParenthetical(tt.in); got != tt.want {
			t.Errorf("stripParenthetical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSearchQueries(t *testing.T) {
	t.Run("distinct rungs", func(t *testing.T) {
		got := searchQueries("Café Naïve (Live)", "Björk")
		want := []string{
			"Café Naïve (Live) Björk",
			"Cafe Naive (Live) Bjork",
			"Cafe Naive Bjork",
		}
		if len(got) != len(want) {
			t.Fatalf("expected %d queries, got %v", len(want), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("query %d: expected %q, got %q", i, want[i], got[i])
			}
		}
	})

	t.Run("plain names collapse to one rung", func(t *testing.T) {
		got := searchQueries("Song", "Artist")
		if len(got) != 1 || got[0] != "Song Artist" {
			t.Errorf("expected single literal query, got %v", got)
		}
	})
}
