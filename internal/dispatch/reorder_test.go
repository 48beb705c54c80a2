package dispatch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func seqs(evs []Event) []uint64 {
	out := make([]uint64, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Seq)
	}
	return out
}

func TestReorder_ReleasesInSequence(t *testing.T) {
	t.Parallel()

	r := newReorder(1)
	var released []uint64

	for _, seq := range []uint64{3, 5, 2, 1, 4} {
		released = append(released, seqs(r.add(Event{Seq: seq}))...)
	}

	if diff := cmp.Diff([]uint64{1, 2, 3, 4, 5}, released); diff != "" {
		t.Errorf("release order mismatch (-want +got):\n%s", diff)
	}
	if r.waiting() != 0 {
		t.Errorf("waiting() = %d, want 0", r.waiting())
	}
}

func TestReorder_HoldsUntilGapFilled(t *testing.T) {
	t.Parallel()

	r := newReorder(1)
	if got := r.add(Event{Seq: 2}); len(got) != 0 {
		t.Fatalf("released %v before seq 1 completed", seqs(got))
	}
	if r.waiting() != 1 {
		t.Fatalf("waiting() = %d, want 1", r.waiting())
	}
	if got := seqs(r.add(Event{Seq: 1})); !cmp.Equal(got, []uint64{1, 2}) {
		t.Fatalf("released %v, want [1 2]", got)
	}
}
