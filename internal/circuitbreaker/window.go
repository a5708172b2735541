package circuitbreaker

import "time"

// failureWindow is a fixed-capacity ring of failure timestamps. Only the
// most recent capacity failures matter: the breaker trips once that many
// fall inside the monitoring window.
type failureWindow struct {
	stamps []time.Time
	next   int
	size   int
}

func newFailureWindow(capacity int) *failureWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &failureWindow{stamps: make([]time.Time, capacity)}
}

func (w *failureWindow) add(t time.Time) {
	w.stamps[w.next] = t
	w.next = (w.next + 1) % len(w.stamps)
	if w.size < len(w.stamps) {
		w.size++
	}
}

// count returns how many recorded failures are no older than span.
func (w *failureWindow) count(now time.Time, span time.Duration) int {
	n := 0
	for i := 0; i < w.size; i++ {
		if now.Sub(w.stamps[i]) <= span {
			n++
		}
	}
	return n
}

func (w *failureWindow) reset() {
	w.next = 0
	w.size = 0
}
