package broker

import "time"

// FrameRecord captures one dispensed action for debugging and export.
type FrameRecord struct {
	Tick   uint64
	State  []float32
	Action []float32
	At     time.Time
}

// FrameLog is a fixed-capacity ring over dispensed frames. Long
// sessions overwrite the oldest entries instead of growing.
type FrameLog struct {
	frames []FrameRecord
	next   int
	count  int
}

func NewFrameLog(capacity int) *FrameLog {
	if capacity <= 0 {
		capacity = 256
	}
	return &FrameLog{frames: make([]FrameRecord, capacity)}
}

func (l *FrameLog) Append(rec FrameRecord) {
	l.frames[l.next] = rec
	l.next = (l.next + 1) % len(l.frames)
	if l.count < len(l.frames) {
		l.count++
	}
}

func (l *FrameLog) Len() int { return l.count }

func (l *FrameLog) Cap() int { return len(l.frames) }

// Snapshot returns the retained frames oldest first.
func (l *FrameLog) Snapshot() []FrameRecord {
	out := make([]FrameRecord, 0, l.count)
	start := l.next - l.count
	if start < 0 {
		start += len(l.frames)
	}
	for i := 0; i < l.count; i++ {
		out = append(out, l.frames[(start+i)%len(l.frames)])
	}
	return out
}
