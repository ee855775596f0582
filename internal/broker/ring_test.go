package broker

import "testing"

func TestFrameLogStaysBounded(t *testing.T) {
	l := NewFrameLog(4)
	for i := 1; i <= 10; i++ {
		l.Append(FrameRecord{Tick: uint64(i)})
	}
	if l.Len() != 4 {
		t.Fatalf("len: %d", l.Len())
	}
	if l.Cap() != 4 {
		t.Fatalf("cap: %d", l.Cap())
	}

	snap := l.Snapshot()
	want := []uint64{7, 8, 9, 10}
	for i, rec := range snap {
		if rec.Tick != want[i] {
			t.Fatalf("snapshot[%d].Tick = %d, want %d", i, rec.Tick, want[i])
		}
	}
}

func TestFrameLogPartialFill(t *testing.T) {
	l := NewFrameLog(8)
	l.Append(FrameRecord{Tick: 1})
	l.Append(FrameRecord{Tick: 2})

	snap := l.Snapshot()
	if len(snap) != 2 || snap[0].Tick != 1 || snap[1].Tick != 2 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestFrameLogDefaultCapacity(t *testing.T) {
	l := NewFrameLog(0)
	if l.Cap() != 256 {
		t.Fatalf("default capacity: %d", l.Cap())
	}
}
