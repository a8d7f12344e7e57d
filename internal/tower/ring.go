package tower

import "tower-feed/internal/domain"

// logRing is a fixed-capacity log that overwrites its oldest entry.
type logRing struct {
	buf   []domain.LogEntry
	start int // index of the oldest entry
	n     int
}

func newLogRing(capacity int) *logRing {
	return &logRing{buf: make([]domain.LogEntry, capacity)}
}

func (r *logRing) push(e domain.LogEntry) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// entries returns the log oldest first as a fresh slice.
func (r *logRing) entries() []domain.LogEntry {
	out := make([]domain.LogEntry, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
