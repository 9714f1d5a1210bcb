package controlplane

import "testing"

func TestCursorRegistryOldestTracksTheSlowestStream(t *testing.T) {
	r := newCursorRegistry()

	if _, ok := r.oldest(); ok {
		t.Fatalf("oldest() on empty registry reported a stream connected")
	}

	a := r.register(10)
	b := r.register(50)

	if min, ok := r.oldest(); !ok || min != 10 {
		t.Fatalf("oldest() = (%d, %v), want (10, true)", min, ok)
	}

	r.update(a, 40)
	if min, ok := r.oldest(); !ok || min != 40 {
		t.Fatalf("oldest() after advancing a = (%d, %v), want (40, true)", min, ok)
	}

	r.unregister(b)
	if min, ok := r.oldest(); !ok || min != 40 {
		t.Fatalf("oldest() after b disconnects = (%d, %v), want (40, true)", min, ok)
	}

	r.unregister(a)
	if _, ok := r.oldest(); ok {
		t.Fatalf("oldest() after every stream disconnects reported one connected")
	}
}

func TestServerOldestActiveCursorReflectsConnectedStreams(t *testing.T) {
	s, _ := newTestServer(t)

	if _, ok := s.OldestActiveCursor(); ok {
		t.Fatalf("fresh server reported an active cursor")
	}

	id := s.cursors.register(7)
	min, ok := s.OldestActiveCursor()
	if !ok || min != 7 {
		t.Fatalf("OldestActiveCursor() = (%d, %v), want (7, true)", min, ok)
	}

	s.cursors.unregister(id)
	if _, ok := s.OldestActiveCursor(); ok {
		t.Fatalf("OldestActiveCursor() reported a stream after it disconnected")
	}
}
