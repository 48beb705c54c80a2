package vocab_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/dictum/internal/vocab"
)

func TestNew_DedupesTerms(t *testing.T) {
	t.Parallel()

	c := vocab.New([]string{"Dictum", " dictum ", "", "   ", "Kubernetes"})
	if diff := cmp.Diff([]string{"Dictum", "Kubernetes"}, c.Terms()); diff != "" {
		t.Errorf("Terms() mismatch (-want +got):\n%s", diff)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCorrect(t *testing.T) {
	t.Parallel()

	terms := []string{"Kubernetes", "Tower of Whispers"}
	tests := []struct {
		name     string
		text     string
		want     string
		wantSubs []string
	}{
		{
			name:     "canonical casing",
			text:     "i deployed it on kubernetes.",
			want:     "i deployed it on Kubernetes.",
			wantSubs: []string{"kubernetes"},
		},
		{
			name:     "multi-word term",
			text:     "we reached the tower of wispers today",
			want:     "we reached the Tower of Whispers today",
			wantSubs: []string{"tower of wispers"},
		},
		{
			name:     "split word",
			text:     "deploy to cube ernetes now",
			want:     "deploy to Kubernetes now",
			wantSubs: []string{"cube ernetes"},
		},
		{
			name:     "punctuation kept",
			text:     "(kubernetes), again",
			want:     "(Kubernetes), again",
			wantSubs: []string{"kubernetes"},
		},
		{
			name: "no match",
			text: "hello   world",
			want: "hello   world",
		},
		{
			name: "already canonical",
			text: "Kubernetes rocks",
			want: "Kubernetes rocks",
		},
	}

	c := vocab.New(terms)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, subs := c.Correct(tt.text)
			if got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.text, got, tt.want)
			}
			var originals []string
			for _, s := range subs {
				originals = append(originals, s.Original)
				if s.Confidence <= 0 || s.Confidence > 1 {
					t.Errorf("substitution %+v has confidence out of range", s)
				}
			}
			if diff := cmp.Diff(tt.wantSubs, originals); diff != "" {
				t.Errorf("substitutions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCorrect_NoTerms(t *testing.T) {
	t.Parallel()

	got, subs := vocab.New(nil).Correct("cube ernetes")
	if got != "cube ernetes" || subs != nil {
		t.Errorf("Correct = %q, %v; want input unchanged", got, subs)
	}
}

func TestCorrect_ShortWordsIgnored(t *testing.T) {
	t.Parallel()

	c := vocab.New([]string{"Go"})
	if got, _ := c.Correct("go home"); got != "go home" {
		t.Errorf("Correct = %q, want short words untouched", got)
	}
}
