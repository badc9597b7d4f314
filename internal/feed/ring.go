package feed

import "atlasbot/internal/models"

// Ring holds the most recent bars for one symbol. It is not safe for
// concurrent use; the store guards it.
type Ring struct {
	buf   []models.Bar
	start int
	n     int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]models.Bar, capacity)}
}

// Push appends b, evicting the oldest bar when full.
func (r *Ring) Push(b models.Bar) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = b
		r.n++
		return
	}
	r.buf[r.start] = b
	r.start = (r.start + 1) % len(r.buf)
}

func (r *Ring) Len() int {
	return r.n
}

func (r *Ring) Cap() int {
	return len(r.buf)
}

// Last copies the newest n bars oldest first. n <= 0 means all of them.
func (r *Ring) Last(n int) []models.Bar {
	if n <= 0 || n > r.n {
		n = r.n
	}
	out := make([]models.Bar, n)
	offset := r.n - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+offset+i)%len(r.buf)]
	}
	return out
}
